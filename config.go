package recorder

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Software is the value recorded in warcinfo records by default.
const Software = "warcrec-recorder/1.0"

// Settings is the full recorder configuration, bound from a config file
// and environment by LoadSettings.
type Settings struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	UpstreamURL string `mapstructure:"upstream_url"`

	// ArchivePaths is the destination path template, e.g.
	// "warcs/{user}/{coll}/rec-{timestamp}-{hostname}.warc.gz".
	ArchivePaths string `mapstructure:"archive_paths"`
	ArchiveRoot  string `mapstructure:"archive_root"`

	AcceptColls    []string          `mapstructure:"accept_colls"`
	DedupPolicy    string            `mapstructure:"dedup_policy"`
	ExcludeHeaders []string          `mapstructure:"exclude_headers"`
	WarcinfoFields map[string]string `mapstructure:"warcinfo_fields"`

	RolloverIdleSeconds int   `mapstructure:"rollover_idle_seconds"`
	SpillThresholdBytes int   `mapstructure:"spill_threshold_bytes"`
	MaxFileSizeBytes    int64 `mapstructure:"max_file_size_bytes"`
	PerRecord           bool  `mapstructure:"per_record"`

	// IndexURL selects the dedup backend: "redis://host:port/db", a
	// filesystem path for an embedded badger index, "memory" for an
	// in-process index, or "" to disable dedup entirely.
	IndexURL string `mapstructure:"index_url"`
	// IndexMode is "strict" (index failures fail the capture) or
	// "lenient" (dedup degrades, records still written).
	IndexMode string `mapstructure:"index_mode"`

	ProxyURL               string `mapstructure:"proxy_url"`
	UpstreamTimeoutSeconds int    `mapstructure:"upstream_timeout_seconds"`
	EnqueueOnDisconnect    bool   `mapstructure:"enqueue_on_disconnect"`
	TempDir                string `mapstructure:"temp_dir"`
	QueueSize              int    `mapstructure:"queue_size"`
}

// LoadSettings reads the configuration file at path (optional) and the
// RECORDER_* environment, applying defaults for everything unset.
func LoadSettings(path string) (Settings, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8010")
	v.SetDefault("archive_root", "warcs")
	v.SetDefault("archive_paths", "{user}/{coll}/"+DefaultFilenameTemplate)
	v.SetDefault("dedup_policy", "revisit")
	v.SetDefault("index_mode", "lenient")
	v.SetDefault("rollover_idle_seconds", 600)
	v.SetDefault("upstream_timeout_seconds", 60)

	v.SetEnvPrefix("recorder")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return s, nil
}

// OpenIndex constructs the dedup index backend named by IndexURL. A nil
// index (no error) means dedup is disabled.
func (s Settings) OpenIndex() (Index, error) {
	switch {
	case s.IndexURL == "":
		return nil, nil
	case s.IndexURL == "memory":
		return NewMemoryIndex("", "")
	case strings.HasPrefix(s.IndexURL, "redis://"), strings.HasPrefix(s.IndexURL, "rediss://"):
		return NewRedisIndex(s.IndexURL, "", "")
	default:
		return NewBadgerIndex(s.IndexURL, "", "")
	}
}

// WarcinfoHeader builds the warcinfo fields written at the top of every new
// file: software and format defaults plus the configured extras.
func (s Settings) WarcinfoHeader() *Header {
	h := NewHeader()
	h.Set("software", Software)
	h.Set("format", "WARC File Format 1.0")
	for k, v := range s.WarcinfoFields {
		h.Set(k, v)
	}
	return h
}

// NewService wires the whole recorder from settings: index, file manager,
// writer and upstream client. The returned cleanup closes the index; the
// writer is shut down by Service.Run when its context ends.
func NewService(s Settings) (*Service, func() error, error) {
	index, err := s.OpenIndex()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error {
		if index != nil {
			return index.Close()
		}
		return nil
	}

	policy, err := ParseDupePolicy(s.DedupPolicy)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	fm := NewFileManager(s.ArchiveRoot, s.ArchivePaths)
	fm.PerRecord = s.PerRecord
	fm.IdleTimeout = time.Duration(s.RolloverIdleSeconds) * time.Second
	fm.MaxFileSize = s.MaxFileSizeBytes
	fm.WarcinfoFields = s.WarcinfoHeader()

	writer := NewRecorderWriter(fm, index, s.QueueSize)
	writer.Policy = policy
	writer.StrictIndex = s.IndexMode == "strict"
	if len(s.ExcludeHeaders) > 0 {
		writer.ExcludeHeaders = NewExcludeHeaders(s.ExcludeHeaders)
	}

	client, err := NewUpstreamClient(UpstreamOptions{
		Timeout:  time.Duration(s.UpstreamTimeoutSeconds) * time.Second,
		ProxyURL: s.ProxyURL,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	svc := &Service{
		UpstreamURL:         strings.TrimRight(s.UpstreamURL, "/"),
		Client:              client,
		Writer:              writer,
		AcceptColls:         s.AcceptColls,
		SpillThreshold:      s.SpillThresholdBytes,
		TempDir:             s.TempDir,
		EnqueueOnDisconnect: s.EnqueueOnDisconnect,
	}
	return svc, cleanup, nil
}
