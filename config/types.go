package config

import "time"

// Config is the complete retrievald configuration.
type Config struct {
	Log           LogConfig           `koanf:"log" json:"log" yaml:"log"`
	Retrieval     RetrievalConfig     `koanf:"retrieval" json:"retrieval" yaml:"retrieval"`
	Fetchers      []FetcherConfig     `koanf:"fetchers" json:"fetchers" yaml:"fetchers" validate:"dive"`
	Scheduler     SchedulerConfig     `koanf:"scheduler" json:"scheduler" yaml:"scheduler"`
	Server        ServerConfig        `koanf:"server" json:"server" yaml:"server"`
	Store         StoreConfig         `koanf:"store" json:"store" yaml:"store"`
	Messaging     MessagingConfig     `koanf:"messaging" json:"messaging" yaml:"messaging"`
	Observability ObservabilityConfig `koanf:"observability" json:"observability" yaml:"observability"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty"`
}

// RetrievalConfig is the request template shared by every fetcher.
type RetrievalConfig struct {
	Timeout      time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout" validate:"gt=0"`
	UserAgent    string        `koanf:"useragent" json:"useragent" yaml:"useragent" validate:"required"`
	MaxRedirects int           `koanf:"maxredirects" json:"maxredirects" yaml:"maxredirects" validate:"gte=0"`
}

// FetcherConfig declares one recurring fetcher.
type FetcherConfig struct {
	ID   string   `koanf:"id" json:"id" yaml:"id" validate:"required"`
	URLs []string `koanf:"urls" json:"urls" yaml:"urls" validate:"required,min=1,dive,httpurl"`

	// Interval is the preferred retrieval interval. Zero selects DefaultFetchInterval.
	Interval time.Duration `koanf:"interval" json:"interval" yaml:"interval" validate:"gte=0"`

	// FailureThreshold defaults to DefaultFailureThreshold when unset.
	FailureThreshold *int `koanf:"failurethreshold" json:"failurethreshold" yaml:"failurethreshold" validate:"omitempty,gte=0"`

	// Charset is used when the response carries no charset parameter.
	Charset string `koanf:"charset" json:"charset" yaml:"charset"`

	// RunNow makes the first tick happen at startup. Defaults to true.
	RunNow *bool `koanf:"runnow" json:"runnow" yaml:"runnow"`
}

// Threshold returns the configured failure threshold or the default.
func (f FetcherConfig) Threshold() int {
	if f.FailureThreshold == nil {
		return DefaultFailureThreshold
	}
	return *f.FailureThreshold
}

// StartImmediately reports whether the first tick happens at startup.
func (f FetcherConfig) StartImmediately() bool {
	return f.RunNow == nil || *f.RunNow
}

// SchedulerConfig controls the scheduler binding and its status API guard.
type SchedulerConfig struct {
	ShutdownTimeout time.Duration `koanf:"shutdowntimeout" json:"shutdowntimeout" yaml:"shutdowntimeout" validate:"gt=0"`

	// CIDRAllowlist restricts /_sys/fetch. Empty means localhost only.
	CIDRAllowlist []string `koanf:"cidrallowlist" json:"cidrallowlist" yaml:"cidrallowlist" validate:"dive,cidr"`

	// TrustedProxies lists the proxies whose forwarding headers are honored.
	TrustedProxies []string `koanf:"trustedproxies" json:"trustedproxies" yaml:"trustedproxies" validate:"dive,cidr"`
}

// ServerConfig holds the status API listener settings.
type ServerConfig struct {
	Enabled bool   `koanf:"enabled" json:"enabled" yaml:"enabled"`
	Host    string `koanf:"host" json:"host" yaml:"host"`
	Port    int    `koanf:"port" json:"port" yaml:"port" validate:"min=1,max=65535"`
}

// StoreConfig enables snapshot persistence when Path is set.
type StoreConfig struct {
	Path string `koanf:"path" json:"path" yaml:"path"`
}

// MessagingConfig enables publishing of fetched results when BrokerURL is set.
type MessagingConfig struct {
	BrokerURL  string `koanf:"brokerurl" json:"brokerurl" yaml:"brokerurl" validate:"omitempty,url"`
	Exchange   string `koanf:"exchange" json:"exchange" yaml:"exchange" validate:"required_with=BrokerURL"`
	RoutingKey string `koanf:"routingkey" json:"routingkey" yaml:"routingkey"`
}

// ObservabilityConfig selects the OpenTelemetry exporters.
type ObservabilityConfig struct {
	Enabled     bool   `koanf:"enabled" json:"enabled" yaml:"enabled"`
	ServiceName string `koanf:"servicename" json:"servicename" yaml:"servicename" validate:"required_if=Enabled true"`

	// Endpoint is "stdout" or a collector host:port.
	Endpoint string `koanf:"endpoint" json:"endpoint" yaml:"endpoint" validate:"required_if=Enabled true"`
	Protocol string `koanf:"protocol" json:"protocol" yaml:"protocol" validate:"oneof=http grpc"`
	Insecure bool   `koanf:"insecure" json:"insecure" yaml:"insecure"`
}
