// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config defines the configuration record the node kernel
// consumes (spec §6 "Configuration record"). Parsing a config *file* is
// explicitly out of scope (spec §1 non-goals); this package only turns
// command-line flags into the record and fills in network defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

const (
	defaultDataDirname  = "data"
	defaultLogDirname   = "logs"
	defaultHeadersFile  = "headers.csv"
	defaultDateFormat   = "2006-01-02"
	defaultUserAgent    = "/btcnode:0.1.0/"
	defaultProtoVersion = 70015

	defaultNumberOfNodes             = 8
	defaultMaxConnections            = 117
	defaultNThreads                  = 4
	defaultConnectTimeoutSeconds     = 30
	defaultBlocksDownloadPerNode     = 50
	defaultAmountOfHeadersOnDisk     = 20000
	defaultDNSSeed                   = "testnet-seed.bitcoin.jonasschnelli.ch"
	defaultHeightFirstBlockToDownload = -1
)

// DefaultHomeDir is the default application data directory.
var DefaultHomeDir = defaultHomeDir()

func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".btcnode")
	}
	return filepath.Join(home, ".btcnode")
}

// Flags is the set of command-line options, one per spec §6 configuration
// key plus the ambient options every btcsuite-style node exposes (data and
// log directories, debug level).
type Flags struct {
	DataDir    string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical}"`

	NumberOfNodes        int    `long:"number_of_nodes" description:"Target count of concurrent peers"`
	DNSSeed              string `long:"dns_seed" description:"Hostname used to discover peers"`
	ConnectToDNSNodes    bool   `long:"connect_to_dns_nodes" description:"If true, resolve dns_seed; else use custom_nodes_ips"`
	CustomNodesIPs       string `long:"custom_nodes_ips" description:"Comma-separated IPv4 list of static peers"`
	NetPort              string `long:"net_port" description:"Peer TCP port"`
	StartString          string `long:"start_string" description:"4-byte network magic, hex-encoded"`
	ProtocolVersion      uint32 `long:"protocol_version" description:"Announced in the version message"`
	UserAgent            string `long:"user_agent" description:"Announced in the version message"`
	NThreads             int    `long:"n_threads" description:"Worker thread count"`
	ConnectTimeout       int    `long:"connect_timeout" description:"Seconds for connect and handshake"`
	MaxConnections       int    `long:"max_connections" description:"Inbound connection cap"`
	BlocksDownloadPerNode int   `long:"blocks_download_per_node" description:"Shard size for IBD"`

	DateFirstBlockToDownload       string `long:"date_first_block_to_download" description:"First block by header timestamp"`
	DateFormat                     string `long:"date_format" description:"Parse format for date_first_block_to_download"`
	AmountOfHeadersToStoreInDisk   int    `long:"amount_of_headers_to_store_in_disk" description:"Persisted prefix length"`
	ReadHeadersFromDisk            bool   `long:"read_headers_from_disk" description:"Replay persisted headers at startup"`
	DownloadFullBlockchainFromSingleNode bool `long:"download_full_blockchain_from_single_node" description:"Pin IBD to one peer"`
	HeightFirstBlockToDownload     int    `long:"height_first_block_to_download" description:"Override of the date-based lookup, -1 disables"`
	HeadersFile                    string `long:"headers_file" description:"Path of the persisted headers file"`

	NetworkFlags
}

// Config is the fully-resolved configuration record passed to the
// controller (spec §6). It carries Flags plus the derived fields
// (directories, network parameters, parsed values) components actually
// consume.
type Config struct {
	*Flags

	Params Params

	CustomNodeAddrs []string

	// DateFirstBlockToDownload is the parsed form of Flags.DateFirstBlockToDownload,
	// zero if unset. A non-negative height_first_block_to_download takes
	// precedence over it.
	DateFirstBlockToDownload time.Time

	HeadersFilePath string
}

func defaultFlags() *Flags {
	return &Flags{
		DataDir:                      filepath.Join(DefaultHomeDir, defaultDataDirname),
		LogDir:                       filepath.Join(DefaultHomeDir, defaultLogDirname),
		DebugLevel:                   "info",
		NumberOfNodes:                defaultNumberOfNodes,
		DNSSeed:                      defaultDNSSeed,
		ConnectToDNSNodes:            true,
		ProtocolVersion:              defaultProtoVersion,
		UserAgent:                    defaultUserAgent,
		NThreads:                     defaultNThreads,
		ConnectTimeout:               defaultConnectTimeoutSeconds,
		MaxConnections:               defaultMaxConnections,
		BlocksDownloadPerNode:        defaultBlocksDownloadPerNode,
		DateFormat:                   defaultDateFormat,
		AmountOfHeadersToStoreInDisk: defaultAmountOfHeadersOnDisk,
		HeightFirstBlockToDownload:   defaultHeightFirstBlockToDownload,
		HeadersFile:                  defaultHeadersFile,
	}
}

// cleanAndExpandPath expands environment variables and a leading ~ in the
// passed path, then cleans the result.
func cleanAndExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		path = strings.Replace(path, "~", DefaultHomeDir, 1)
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// LoadConfig parses command-line arguments into a Config, applying
// defaults and resolving the network parameters and derived fields. It
// mirrors the btcsuite convention of a single LoadConfig entry point
// rather than scattered flag.Parse calls.
func LoadConfig() (*Config, []string, error) {
	preCfg := defaultFlags()
	parser := flags.NewParser(preCfg, flags.Default)
	remainingArgs, err := parser.Parse()
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, nil, err
	}

	cfg := &Config{Flags: preCfg}
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	cfg.Params = cfg.NetworkFlags.ActiveParams()
	if cfg.NetPort == "" {
		cfg.NetPort = cfg.Params.DefaultPort
	}
	if cfg.StartString != "" {
		magic, err := parseHexMagic(cfg.StartString)
		if err != nil {
			return nil, nil, errors.Wrap(err, "invalid start_string")
		}
		cfg.Params.StartString = magic
	}
	if cfg.ProtocolVersion != 0 {
		cfg.Params.ProtocolVersion = cfg.ProtocolVersion
	}

	if cfg.CustomNodesIPs != "" {
		for _, addr := range strings.Split(cfg.CustomNodesIPs, ",") {
			addr = strings.TrimSpace(addr)
			if addr != "" {
				cfg.CustomNodeAddrs = append(cfg.CustomNodeAddrs, addr)
			}
		}
	}

	if cfg.Flags.DateFirstBlockToDownload != "" {
		format := cfg.DateFormat
		if format == "" {
			format = defaultDateFormat
		}
		t, err := time.Parse(format, cfg.Flags.DateFirstBlockToDownload)
		if err != nil {
			return nil, nil, errors.Wrap(err, "invalid date_first_block_to_download")
		}
		cfg.DateFirstBlockToDownload = t
	}

	headersFile := cfg.HeadersFile
	if headersFile == "" {
		headersFile = defaultHeadersFile
	}
	if !filepath.IsAbs(headersFile) {
		headersFile = filepath.Join(cfg.DataDir, headersFile)
	}
	cfg.HeadersFilePath = headersFile

	if cfg.NThreads <= 0 {
		return nil, nil, errors.New("n_threads must be positive")
	}
	if cfg.ConnectTimeout <= 0 {
		return nil, nil, errors.New("connect_timeout must be positive")
	}

	return cfg, remainingArgs, nil
}

func parseHexMagic(s string) (uint32, error) {
	s = strings.TrimPrefix(s, "0x")
	var v uint32
	_, err := fmt.Sscanf(s, "%x", &v)
	if err != nil {
		return 0, err
	}
	return v, nil
}
