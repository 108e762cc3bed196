package foxglove

const LogSchema = `{
  "type": "object",
  "properties": {
    "timestamp": { "type": "object", "properties": { "sec": { "type": "integer" }, "nsec": { "type": "integer" } } },
    "level": { "type": "integer" },
    "message": { "type": "string" },
    "name": { "type": "string" },
    "file": { "type": "string" },
    "line": { "type": "integer" }
  }
}`

type Config struct {
	WSAddr      string
	Name        string
	TopicPrefix string
	LogName     string
	Encoding    string
	SendBuf     int
}

func DefaultConfig() Config {
	return Config{
		WSAddr:      "127.0.0.1:8765",
		Name:        "telemd",
		TopicPrefix: "/telemetry/",
		LogName:     "device",
		Encoding:    "json",
		SendBuf:     256,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.WSAddr == "" {
		c.WSAddr = defaults.WSAddr
	}
	if c.Name == "" {
		c.Name = defaults.Name
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = defaults.TopicPrefix
	}
	if c.LogName == "" {
		c.LogName = defaults.LogName
	}
	if c.Encoding == "" {
		c.Encoding = defaults.Encoding
	}
	if c.SendBuf <= 0 {
		c.SendBuf = defaults.SendBuf
	}
	return c
}
