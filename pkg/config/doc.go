// Package config loads the modhost project file.
//
// The project file (modhost.yaml by default) declares the run mode, the host site, the
// bundle ledger, telemetry settings and the controllers to register:
//
//	runmode: dev
//	debug: true
//	site:
//	  theme_dir: ./theme
//	  theme_uri: https://example.com/theme
//	ledger:
//	  path: ./.modhost/ledger.db
//	controllers:
//	  - identity: Acme
//	    root: ./theme/acme
//	    dirs:
//	      - path: ./theme/acme/lib
//	    helpers:
//	      - symbol: Acme_format
//	        method: format
//	    make_global: true
//
// Relative paths are resolved against the directory of the project file.
// MODHOST_RUNMODE and MODHOST_DEBUG override the file.
//
// # Validation
//
// Validate runs three passes. Struct tags are checked with go-playground/validator,
// the document is unified with the #Project CUE schema from SchemaRegistry, and finally
// the run mode is checked. An unknown run mode is an error only when debug is set;
// otherwise any value is accepted and lower-cased by the run mode holder.
package config
