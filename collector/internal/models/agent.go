package models

// AgentRecord 已知代理的注册信息
type AgentRecord struct {
	Hostname  string `json:"hostname"`
	AgentIP   string `json:"agent_ip"`
	FirstSeen int64  `json:"first_seen"` // 首次上报时间(unix 秒)
	LastSeen  int64  `json:"last_seen"`  // 最近上报时间(unix 秒)
}
