package main

import (
	"bytes"
	"encoding/json"
	"os"

	natomic "github.com/natefinch/atomic"
	"github.com/spf13/viper"
	"github.com/tailscale/hujson"
)

// loadHujsonConfig reads a JWCC (JSON-with-comments-and-commas) config
// file, standardizes it to plain JSON, and merges it into v.
func loadHujsonConfig(path string, v *viper.Viper) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return err
	}
	v.SetConfigType("json")
	return v.MergeConfig(bytes.NewReader(std))
}

// writeReport atomically writes rep as JSON to path, so a reader never
// observes a half-written report file.
func writeReport(path string, rep report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return natomic.WriteFile(path, bytes.NewReader(data))
}
