// Package config loads the map server, ingester and migrator settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"temperature-map/internal/datastore"
	"temperature-map/internal/render"
	"temperature-map/internal/services"
	"temperature-map/pkg/database"
)

const envPrefix = "TEMPMAP"

// ConfigPathEnv names the optional YAML config file
const ConfigPathEnv = "TEMPMAP_CONFIG"

// Config holds all application settings
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Sources     SourcesConfig     `mapstructure:"sources"`
	Map         MapConfig         `mapstructure:"map"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	LoadTimeout  time.Duration `mapstructure:"load_timeout"`
	MaxViews     int           `mapstructure:"max_views"`

	// Views untouched for this long are unmounted; zero keeps them forever
	ViewIdleTimeout time.Duration `mapstructure:"view_idle_timeout"`
}

// DatabaseConfig holds Postgres settings. The database is optional for the
// server and required by the ingester and migrator.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig holds the payload cache settings. An empty address disables
// the cache.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ObjectStoreConfig holds the S3-compatible store used for s3:// sources
type ObjectStoreConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// SourcesConfig locates the datasets. Each location is an http(s) URL, a
// file path, an s3://bucket/key object or, for temperatures and points, "db".
type SourcesConfig struct {
	Geometry        string        `mapstructure:"geometry"`
	GeometryObject  string        `mapstructure:"geometry_object"`
	Temperatures    string        `mapstructure:"temperatures"`
	Points          string        `mapstructure:"points"`
	TimeSeries      string        `mapstructure:"time_series"`
	TimeSeriesEntry string        `mapstructure:"time_series_entry"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
}

// MapConfig holds the projection and color domains. RegionPalette colors the
// per-region averages and Palette the heat layer and markers; ["turbo"]
// selects the Turbo ramp.
type MapConfig struct {
	Width         float64  `mapstructure:"width"`
	Height        float64  `mapstructure:"height"`
	Projection    string   `mapstructure:"projection"`
	HeatMin       float64  `mapstructure:"heat_min"`
	HeatMax       float64  `mapstructure:"heat_max"`
	PointMin      float64  `mapstructure:"point_min"`
	PointMax      float64  `mapstructure:"point_max"`
	Palette       []string `mapstructure:"palette"`
	RegionPalette []string `mapstructure:"region_palette"`
	LegendWidth   float64  `mapstructure:"legend_width"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// setDefaults registers every key, which also lets AutomaticEnv resolve
// TEMPMAP_* overrides during Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.load_timeout", 2*time.Minute)
	v.SetDefault("server.max_views", 1000)
	v.SetDefault("server.view_idle_timeout", 30*time.Minute)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "temperature_map")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("database.migrations_path", "file://migrations")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "tempmap:payload:")
	v.SetDefault("redis.ttl", time.Hour)

	v.SetDefault("object_store.endpoint", "")
	v.SetDefault("object_store.access_key", "")
	v.SetDefault("object_store.secret_key", "")
	v.SetDefault("object_store.use_ssl", false)
	v.SetDefault("object_store.region", "")

	v.SetDefault("logging.level", "info")

	v.SetDefault("sources.geometry", "")
	v.SetDefault("sources.geometry_object", "countries")
	v.SetDefault("sources.temperatures", "")
	v.SetDefault("sources.points", "")
	v.SetDefault("sources.time_series", "")
	v.SetDefault("sources.time_series_entry", "temperature_data.json")
	v.SetDefault("sources.fetch_timeout", 30*time.Second)

	v.SetDefault("map.width", 960)
	v.SetDefault("map.height", 540)
	v.SetDefault("map.projection", "natural_earth")
	v.SetDefault("map.heat_min", 230)
	v.SetDefault("map.heat_max", 310)
	v.SetDefault("map.point_min", -30)
	v.SetDefault("map.point_max", 35)
	v.SetDefault("map.palette", []string{})
	v.SetDefault("map.region_palette", []string{"turbo"})
	v.SetDefault("map.legend_width", 160)
}

// LoadConfig reads the file named by TEMPMAP_CONFIG when set, then applies
// TEMPMAP_* environment overrides
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(ConfigPathEnv))
}

// Load reads configPath (optional) and applies TEMPMAP_* environment overrides
func Load(configPath string) (*Config, error) {
	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings the server needs
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.ViewIdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.view_idle_timeout %s must not be negative", c.Server.ViewIdleTimeout))
	}
	if c.Sources.Geometry == "" {
		errs = append(errs, errors.New("sources.geometry is required"))
	}
	if c.Sources.UsesDatabase(c.Sources.Temperatures) && !c.Database.Enabled {
		errs = append(errs, errors.New("sources.temperatures is db but database.enabled is false"))
	}
	if c.Sources.UsesDatabase(c.Sources.Points) && !c.Database.Enabled {
		errs = append(errs, errors.New("sources.points is db but database.enabled is false"))
	}
	if c.Map.Width <= 0 || c.Map.Height <= 0 {
		errs = append(errs, fmt.Errorf("map size %gx%g must be positive", c.Map.Width, c.Map.Height))
	}
	if c.Map.HeatMin >= c.Map.HeatMax {
		errs = append(errs, fmt.Errorf("map.heat_min %g must be below map.heat_max %g", c.Map.HeatMin, c.Map.HeatMax))
	}
	if c.Map.PointMin >= c.Map.PointMax {
		errs = append(errs, fmt.Errorf("map.point_min %g must be below map.point_max %g", c.Map.PointMin, c.Map.PointMax))
	}
	if invalidPalette(c.Map.Palette) {
		errs = append(errs, errors.New("map.palette needs at least two colors or \"turbo\""))
	}
	if invalidPalette(c.Map.RegionPalette) {
		errs = append(errs, errors.New("map.region_palette needs at least two colors or \"turbo\""))
	}

	return errors.Join(errs...)
}

func invalidPalette(palette []string) bool {
	return len(palette) == 1 && palette[0] != render.TurboPalette
}

// ValidateDatabase checks the settings the ingester and migrator need
func (c *Config) ValidateDatabase() error {
	if c.Database.Host == "" || c.Database.Database == "" {
		return errors.New("database.host and database.database are required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port %d out of range", c.Database.Port)
	}
	return nil
}

// PostgresConfig converts the database section for pkg/database
func (d DatabaseConfig) PostgresConfig() *database.Config {
	return &database.Config{
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Database,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}
}

// UsesDatabase reports whether location selects the database, in any case
func (s SourcesConfig) UsesDatabase(location string) bool {
	return strings.EqualFold(strings.TrimSpace(location), datastore.DatabaseSource)
}

// DatastoreSources converts the sources section for the datastore
func (s SourcesConfig) DatastoreSources() datastore.Sources {
	return datastore.Sources{
		Geometry:        s.Geometry,
		GeometryObject:  s.GeometryObject,
		Temperatures:    s.Temperatures,
		Points:          s.Points,
		TimeSeries:      s.TimeSeries,
		TimeSeriesEntry: s.TimeSeriesEntry,
	}
}

// ObjectStore converts the object store section, or returns false when no
// endpoint is configured
func (o ObjectStoreConfig) ObjectStore() (datastore.ObjectStoreConfig, bool) {
	return datastore.ObjectStoreConfig{
		Endpoint:        o.Endpoint,
		AccessKeyID:     o.AccessKey,
		SecretAccessKey: o.SecretKey,
		UseSSL:          o.UseSSL,
		Region:          o.Region,
	}, o.Endpoint != ""
}

// BridgeOptions converts the map section for services.NewBridge
func (m MapConfig) BridgeOptions() services.BridgeOptions {
	return services.BridgeOptions{
		Width:         m.Width,
		Height:        m.Height,
		Projection:    m.Projection,
		HeatMin:       m.HeatMin,
		HeatMax:       m.HeatMax,
		PointMin:      m.PointMin,
		PointMax:      m.PointMax,
		Palette:       m.Palette,
		RegionPalette: m.RegionPalette,
		LegendWidth:   m.LegendWidth,
	}
}
