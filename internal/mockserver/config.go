package mockserver

import (
	"time"

	"segclient/internal/catalog"
	"segclient/internal/config"
	"segclient/pkg/types"
)

const (
	defaultProgressDelay = 150 * time.Millisecond
	defaultCacheTTL      = time.Hour
	defaultPageLimit     = 50
	maxStoredResults     = 1000
	// jsonBodyLimit bounds segment and batch request bodies.
	jsonBodyLimit = 1 << 20
)

// Options configures a Server. Zero values take the defaults above.
type Options struct {
	// Catalog is served by the algorithms endpoints; the built-in catalog
	// when empty.
	Catalog     []types.AlgorithmInfo
	CORSOrigins []string
	// ProgressDelay is the pause between progress frames of one algorithm.
	// Negative disables the pause.
	ProgressDelay  time.Duration
	MaxUploadBytes int64
	CacheTTL       time.Duration
	Version        string
	Now            func() time.Time
}

// OptionsFromConfig builds Options from the mock section of the config,
// loading the catalog file when one is named.
func OptionsFromConfig(cfg config.MockConfig, version string) (Options, error) {
	o := Options{
		CORSOrigins:   append([]string(nil), cfg.CORSOrigins...),
		ProgressDelay: cfg.ProgressDelay.Duration,
		Version:       version,
	}
	if cfg.CatalogFile != "" {
		algos, err := catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			return Options{}, err
		}
		o.Catalog = algos
	}
	return o, nil
}

func (o Options) withDefaults() Options {
	if len(o.Catalog) == 0 {
		o.Catalog = catalog.Builtin()
	}
	if o.ProgressDelay == 0 {
		o.ProgressDelay = defaultProgressDelay
	}
	if o.ProgressDelay < 0 {
		o.ProgressDelay = 0
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = types.MaxUploadBytes
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = defaultCacheTTL
	}
	if o.Version == "" {
		o.Version = "dev"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
