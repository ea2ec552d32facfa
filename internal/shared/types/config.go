package types

// LocalConf holds the daemon's listening and storage settings.
type LocalConf struct {
	WebPort     int    `ini:"web_port"`
	WebUser     string `ini:"web_user"`
	WebPassword string `ini:"web_password"`
	DataDir     string `ini:"data_dir"`
}

// LogConf contains logging specific configuration.
type LogConf struct {
	Level string `ini:"level"`
}

// ProbeConf controls the active connectivity probes.
type ProbeConf struct {
	// JudgeURL is the header-reflecting endpoint probes are routed to.
	JudgeURL    string `ini:"judge_url"`
	GeoURL      string `ini:"geo_url"`
	Concurrency int    `ini:"concurrency"`
}

// Config is the unified behavior configuration loaded from proxyhive.ini.
type Config struct {
	LocalConf `ini:"local"`
	LogConf   `ini:"log"`
	ProbeConf `ini:"probe"`
}
