package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/alpacahq/shmstore/utils/log"
)

// Version information, set at link time.
var (
	Tag        = "dev"
	GitHash    = "unknown"
	BuildStamp = "unknown"
)

const (
	defaultRootDirectory     = "data"
	defaultLockTimeout       = 5 * time.Second
	defaultDiskUsageInterval = time.Minute
)

// RemoteSetting selects where persisted partitions are mirrored.
type RemoteSetting struct {
	// Type is "dir", "minio" or "s3".
	Type      string
	Path      string
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

type ShmConfig struct {
	RootDirectory string
	// ShmDirectory holds the shared segments; empty means /dev/shm.
	ShmDirectory string
	Timezone     *time.Location
	LockTimeout  time.Duration
	Compression  string
	Partition    string
	Remote       *RemoteSetting
	// MetricsListen is the address prometheus metrics are served on, if any.
	MetricsListen string
	// PublishListen is the address replicas subscribe to, if any.
	PublishListen     string
	DiskUsageInterval time.Duration
}

func ParseConfig(data []byte) (*ShmConfig, error) {
	var (
		err error
		aux struct {
			RootDirectory     string `yaml:"root_directory"`
			ShmDirectory      string `yaml:"shm_directory"`
			Timezone          string `yaml:"timezone"`
			LogLevel          string `yaml:"log_level"`
			LockTimeout       string `yaml:"lock_timeout"`
			Compression       string `yaml:"compression"`
			Partition         string `yaml:"partition"`
			MetricsListen     string `yaml:"metrics_listen"`
			PublishListen     string `yaml:"publish_listen"`
			DiskUsageInterval string `yaml:"disk_usage_interval"`
			Remote            *struct {
				Type      string `yaml:"type"`
				Path      string `yaml:"path"`
				Endpoint  string `yaml:"endpoint"`
				Bucket    string `yaml:"bucket"`
				Prefix    string `yaml:"prefix"`
				AccessKey string `yaml:"access_key"`
				SecretKey string `yaml:"secret_key"`
				UseSSL    bool   `yaml:"use_ssl"`
				Region    string `yaml:"region"`
			} `yaml:"remote"`
		}
	)
	m := &ShmConfig{}

	if err = yaml.Unmarshal(data, &aux); err != nil {
		return nil, err
	}

	m.RootDirectory = aux.RootDirectory
	if m.RootDirectory == "" {
		m.RootDirectory = defaultRootDirectory
	}
	m.ShmDirectory = aux.ShmDirectory

	// Giving "" to LoadLocation will be UTC anyway, which is our default too.
	m.Timezone, err = time.LoadLocation(aux.Timezone)
	if err != nil {
		log.Error("Invalid timezone %q.", aux.Timezone)
		return nil, errors.New("invalid timezone")
	}

	if aux.LogLevel != "" {
		log.SetLevel(log.LevelFromString(aux.LogLevel))
	}

	m.LockTimeout = defaultLockTimeout
	if aux.LockTimeout != "" {
		if m.LockTimeout, err = time.ParseDuration(aux.LockTimeout); err != nil || m.LockTimeout <= 0 {
			return nil, fmt.Errorf("invalid lock_timeout %q", aux.LockTimeout)
		}
	}

	m.DiskUsageInterval = defaultDiskUsageInterval
	if aux.DiskUsageInterval != "" {
		if m.DiskUsageInterval, err = time.ParseDuration(aux.DiskUsageInterval); err != nil || m.DiskUsageInterval <= 0 {
			return nil, fmt.Errorf("invalid disk_usage_interval %q", aux.DiskUsageInterval)
		}
	}

	switch c := strings.ToLower(aux.Compression); c {
	case "", "zstd", "snappy", "lz4", "none":
		m.Compression = c
	default:
		return nil, fmt.Errorf("invalid compression %q", aux.Compression)
	}
	m.Partition = aux.Partition
	m.MetricsListen = aux.MetricsListen
	m.PublishListen = aux.PublishListen

	if r := aux.Remote; r != nil {
		m.Remote = &RemoteSetting{
			Type:      strings.ToLower(r.Type),
			Path:      r.Path,
			Endpoint:  r.Endpoint,
			Bucket:    r.Bucket,
			Prefix:    r.Prefix,
			AccessKey: r.AccessKey,
			SecretKey: r.SecretKey,
			UseSSL:    r.UseSSL,
			Region:    r.Region,
		}
		switch m.Remote.Type {
		case "dir":
			if r.Path == "" {
				return nil, errors.New("remote of type dir needs a path")
			}
		case "minio", "s3":
			if r.Bucket == "" {
				return nil, fmt.Errorf("remote of type %s needs a bucket", m.Remote.Type)
			}
		default:
			return nil, fmt.Errorf("invalid remote type %q", r.Type)
		}
	}

	return m, nil
}
