package conf

type Bootstrap struct {
	Server *Server `json:"server"`
	Data   *Data   `json:"data"`
	Pulse  *Pulse  `json:"pulse"`
}

type Server struct {
	Http *HTTP `json:"http"`
}

type HTTP struct {
	Addr    string `json:"addr"`
	Timeout string `json:"timeout"`
}

type Data struct {
	Database *Database `json:"database"`
}

// Database 报告归档库，与 macro_pulse 的 db 配置一致
type Database struct {
	Host     string `json:"host"`
	Port     int32  `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Pulse 后台运行使用的 macro_pulse 配置，Config 为空时禁用 POST /v1/runs
type Pulse struct {
	Config string `json:"config"`
}
