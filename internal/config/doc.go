// Package config provides configuration loading for collabd.
//
// The configuration is stored in collab.json. Durations are strings in
// time.ParseDuration form. Every field is optional; defaults are applied
// after load.
//
// # Configuration File Structure
//
//	{
//	  "server": {
//	    "address": ":8080",
//	    "shutdownTimeout": "30s",
//	    "cleanupInterval": "30s",
//	    "allowedOrigins": ["https://wiki.example.org"]
//	  },
//	  "session": {
//	    "readTimeout": "60s",
//	    "joinTimeout": "15s",
//	    "saveTimeout": "30s",
//	    "sendQueueSize": 256
//	  },
//	  "parse": {
//	    "endpoint": "http://parsoid.internal/page/html",
//	    "cacheTTL": "5m"
//	  },
//	  "redis": {
//	    "addr": "localhost:6379"
//	  },
//	  "s3": {
//	    "bucket": "wiki-pages",
//	    "region": "us-east-1",
//	    "prefix": "pages/"
//	  },
//	  "log": {
//	    "level": "info",
//	    "format": "text"
//	  }
//	}
//
// # Usage
//
//	cfg, err := config.LoadFile("collab.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Address:", cfg.Server.Address)
package config
