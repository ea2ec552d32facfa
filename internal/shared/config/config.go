package config

import (
	"os"
	"strconv"

	"gopkg.in/ini.v1"

	"proxyhive/internal/shared/types"
)

// LoadIni loads the behavior configuration file and applies environment
// overrides.
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	overrideFromEnvInt(&cfg.LocalConf.WebPort, "PROXYHIVE_WEB_PORT")
	applyDefaults(cfg)
	return nil
}

func applyDefaults(cfg *types.Config) {
	if cfg.ProbeConf.JudgeURL == "" {
		cfg.ProbeConf.JudgeURL = "https://httpbin.org/get"
	}
	if cfg.ProbeConf.GeoURL == "" {
		cfg.ProbeConf.GeoURL = "http://ip-api.com/json"
	}
	if cfg.ProbeConf.Concurrency <= 0 {
		cfg.ProbeConf.Concurrency = 5
	}
	if cfg.LocalConf.DataDir == "" {
		cfg.LocalConf.DataDir = "data"
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}
