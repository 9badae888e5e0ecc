package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	crawlPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sitechat",
			Name:      "crawl_pages_total",
			Help:      "Total pages processed during crawls",
		},
		[]string{"status"},
	)

	crawlDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sitechat",
			Name:      "crawl_duration_seconds",
			Help:      "Duration of full site crawls in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		},
	)

	crawlsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sitechat",
			Name:      "crawls_total",
			Help:      "Total site crawls by outcome",
		},
		[]string{"status"},
	)

	fetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sitechat",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of headless browser page fetches in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~64s
		},
	)

	linkDiscoveryTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sitechat",
			Name:      "link_discovery_total",
			Help:      "Total links discovered from crawled pages",
		},
	)

	chunksIndexedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sitechat",
			Name:      "chunks_indexed_total",
			Help:      "Total chunks embedded and upserted into the vector store",
		},
	)
)
