// Config loading for the listdav CLI.
package main

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config keys. Each is overridable through a LISTDAV_* environment variable.
const (
	cfgKeyListen  = "listen"
	cfgKeyPrefix  = "prefix"
	cfgKeyRealm   = "realm"
	cfgKeyDB      = "db"
	cfgKeyBlobDir = "blob_dir"
	cfgKeyVerbose = "verbose"
)

// loadConfig reads listdav.yaml (or the --config file) and the LISTDAV_*
// environment. A missing config file is not an error; defaults apply.
func loadConfig(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyListen, ":8080")
	v.SetDefault(cfgKeyPrefix, "/dav/")
	v.SetDefault(cfgKeyRealm, "listdav")
	v.SetDefault(cfgKeyDB, "listdav.db")
	v.SetDefault(cfgKeyBlobDir, "blobs")
	v.SetDefault(cfgKeyVerbose, false)

	v.SetEnvPrefix("LISTDAV")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("listdav")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.listdav")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}
