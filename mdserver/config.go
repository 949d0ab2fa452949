package mdserver

import (
	"github.com/cubefs/cubefs/blobstore/util/log"

	"github.com/indexfs/indexfs/giga"
	"github.com/indexfs/indexfs/mdserver/store"
	"github.com/indexfs/indexfs/proto"
	"github.com/indexfs/indexfs/util/limiter"
)

const (
	defaultSplitThreshold     = 1 << 11
	defaultDmapCacheSize      = 1 << 15
	defaultDentCacheSize      = 1 << 16
	defaultDirBulkSize        = 1 << 10
	defaultFileEmbedThreshold = 64 << 10
	defaultMaxReaddirEntries  = 1 << 10
)

type Config struct {
	StoreConfig store.Config `json:"store_config"`

	// NodeID is this server's slot in the member list.
	NodeID  proto.ServerID `json:"node_id"`
	Members []proto.Node   `json:"members"`

	// FileDir roots the backing objects of spilled file bodies.
	FileDir string `json:"file_dir"`

	SplitThreshold     int64 `json:"split_threshold"`
	DmapCacheSize      int   `json:"dmap_cache_size"`
	DentCacheSize      int   `json:"dent_cache_size"`
	DirBulkSize        int   `json:"dir_bulk_size"`
	FileEmbedThreshold int   `json:"file_embed_threshold"`

	// SplitPolicy is one of "num_servers_bound" (default), "no_bound",
	// "never".
	SplitPolicy            string `json:"split_policy"`
	MaxPartitionsPerServer int    `json:"max_partitions_per_server"`

	// DataLimit throttles the embedded-file data path.
	DataLimit limiter.Config `json:"data_limit"`
}

func initConfig(cfg *Config) {
	if len(cfg.Members) == 0 {
		log.Fatalf("member list must be set")
	}
	if int(cfg.NodeID) >= len(cfg.Members) {
		log.Fatalf("node id %d out of member list range %d", cfg.NodeID, len(cfg.Members))
	}
	if cfg.SplitThreshold <= 0 {
		cfg.SplitThreshold = defaultSplitThreshold
	}
	if cfg.DmapCacheSize <= 0 {
		cfg.DmapCacheSize = defaultDmapCacheSize
	}
	if cfg.DentCacheSize <= 0 {
		cfg.DentCacheSize = defaultDentCacheSize
	}
	if cfg.DirBulkSize <= 0 {
		cfg.DirBulkSize = defaultDirBulkSize
	}
	if cfg.FileEmbedThreshold <= 0 {
		cfg.FileEmbedThreshold = defaultFileEmbedThreshold
	}
	if cfg.MaxPartitionsPerServer <= 0 {
		cfg.MaxPartitionsPerServer = giga.DefaultPartitionsPerServer
	}
	cfg.StoreConfig.ServerID = cfg.NodeID
	cfg.StoreConfig.DirBulkSize = cfg.DirBulkSize
}

func (cfg *Config) splitPolicy() giga.SplitPolicy {
	switch cfg.SplitPolicy {
	case "no_bound":
		return giga.SplitNoBound
	case "never":
		return giga.SplitNever
	default:
		return giga.SplitNumServersBound
	}
}
