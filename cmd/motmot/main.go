package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/motmot-data/motmot/meta"
	"github.com/motmot-data/motmot/server"
	"github.com/motmot-data/motmot/store"
)

// config holds the server settings. They are read from a TOML file and can
// be overridden by command line flags.
type config struct {
	Storage    string // where file content goes. a path, an s3 url, or "memory"
	CacheDir   string // scratch space for the registry records and the QL database
	Mysql      string // dial string for MySQL. empty means use QL
	PortNumber string
	PProfPort  string
	Tokenfile  string
}

func main() {
	var configFile = flag.String("config-file", "", "name of TOML configuration file")
	var cfg = config{
		Storage:    ".",
		PortNumber: "14000",
	}
	flag.StringVar(&cfg.Storage, "storage", cfg.Storage, "location of the storage area")
	flag.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "directory for registry records and the internal database")
	flag.StringVar(&cfg.Mysql, "mysql", cfg.Mysql, "dial string of a MySQL database")
	flag.StringVar(&cfg.PortNumber, "port", cfg.PortNumber, "port to listen on")
	flag.StringVar(&cfg.PProfPort, "pprof-port", cfg.PProfPort, "port for the pprof server, empty disables it")
	flag.StringVar(&cfg.Tokenfile, "tokenfile", cfg.Tokenfile, "file listing API tokens, empty disables authentication")
	var showVersion = flag.Bool("version", false, "print the version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("motmot version %s\n", server.Version)
		return
	}
	if *configFile != "" {
		// file settings win over flag defaults, flags given on the
		// command line win over the file
		given := make(map[string]bool)
		flag.Visit(func(f *flag.Flag) { given[f.Name] = true })
		var fromFile config
		if _, err := toml.DecodeFile(*configFile, &fromFile); err != nil {
			log.Fatalf("Error reading %s: %s", *configFile, err)
		}
		merge(&cfg, fromFile, given)
	}

	backend, workLoc, globalLoc, err := parselocation(cfg.Storage)
	if err != nil {
		log.Fatalf("Error setting up storage %s: %s", cfg.Storage, err)
	}

	var kv store.KV = store.NewMemoryKV()
	if cfg.CacheDir != "" {
		kv, err = store.NewFileKV(filepath.Join(cfg.CacheDir, "registry"))
		if err != nil {
			log.Fatalf("Error opening registry store: %s", err)
		}
	}
	registry := meta.New(kv)
	if err = registry.Load(); err != nil {
		log.Fatalf("Error loading registry: %s", err)
	}

	var validator server.TokenDecoder
	if cfg.Tokenfile != "" {
		validator, err = server.NewListDecoderFile(cfg.Tokenfile)
		if err != nil {
			log.Fatalf("Error reading %s: %s", cfg.Tokenfile, err)
		}
	}

	s := &server.RESTServer{
		PortNumber:        cfg.PortNumber,
		PProfPort:         cfg.PProfPort,
		Registry:          registry,
		Backend:           backend,
		WorkspaceLocation: workLoc,
		GlobalLocation:    globalLoc,
		CacheDir:          cfg.CacheDir,
		MySQL:             cfg.Mysql,
		Validator:         validator,
	}
	err = s.Run()
	if err != nil {
		log.Fatalln(err)
	}
}

func merge(cfg *config, fromFile config, given map[string]bool) {
	if !given["storage"] && fromFile.Storage != "" {
		cfg.Storage = fromFile.Storage
	}
	if !given["cache-dir"] && fromFile.CacheDir != "" {
		cfg.CacheDir = fromFile.CacheDir
	}
	if !given["mysql"] && fromFile.Mysql != "" {
		cfg.Mysql = fromFile.Mysql
	}
	if !given["port"] && fromFile.PortNumber != "" {
		cfg.PortNumber = fromFile.PortNumber
	}
	if !given["pprof-port"] && fromFile.PProfPort != "" {
		cfg.PProfPort = fromFile.PProfPort
	}
	if !given["tokenfile"] && fromFile.Tokenfile != "" {
		cfg.Tokenfile = fromFile.Tokenfile
	}
}

// parselocation creates the storage backend for "location" along with the
// workspace and global content areas inside it. A location is either
// "memory", an "s3://bucket/prefix" url, or a filesystem path.
func parselocation(location string) (store.Backend, string, string, error) {
	if location == "" || location == "memory" {
		return store.NewMemory(), "mem://work", "mem://global", nil
	}
	u, _ := url.Parse(location)
	switch u.Scheme {
	case "", "file":
		abs, err := filepath.Abs(u.Path)
		if err != nil {
			return nil, "", "", err
		}
		if err = os.MkdirAll(abs, 0755); err != nil {
			return nil, "", "", err
		}
		backend, err := store.NewFileSystem(abs)
		if err != nil {
			return nil, "", "", err
		}
		base := "file://" + abs
		return backend, base + "/workspace", base + "/global", nil
	case "s3":
		conf := &aws.Config{}
		if endpoint := os.Getenv("AWS_S3_ENDPOINT"); endpoint != "" {
			conf.Endpoint = aws.String(endpoint)
			conf.Region = aws.String("us-east-1")
			// disable SSL for local development
			if strings.Contains(endpoint, "localhost") {
				conf.DisableSSL = aws.Bool(true)
				conf.S3ForcePathStyle = aws.Bool(true)
			}
		}
		if u.Host == "" {
			return nil, "", "", fmt.Errorf("no bucket name in %s", location)
		}
		backend := store.NewS3(session.New(conf))
		base := "s3://" + u.Host + u.Path
		base = strings.TrimSuffix(base, "/")
		return backend, base + "/workspace", base + "/global", nil
	}
	return nil, "", "", fmt.Errorf("cannot understand storage location %s", location)
}
