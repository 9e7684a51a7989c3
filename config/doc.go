// Package config loads and validates the acquisition configuration.
//
// Configuration is read from YAML or JSON files (chosen by extension),
// layered over DefaultConfig, then overridden from ORCHID_* environment
// variables.
//
//	loader := config.NewLoader()
//	loader.AddLayer("orchid.yaml")
//	loader.AddLayer("site-overrides.yaml")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Validate rejects any sizing that could deadlock the pipeline: the write
// queue needs more buffers than files and fewer than
// file.MaximumWriteQueueSize, and an output buffer must hold the largest
// record a board buffer can carry.
//
// Durations accept Go syntax ("250ms", "5s") plus a day suffix ("2d").
//
// SafeConfig guards the live configuration for the few values that change
// at runtime, such as the slow-controls poll interval.
package config
