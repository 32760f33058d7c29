package server

import (
	"time"

	"proxygate/internal/domain"
)

// ProxyInfo is the wire shape of one proxy record including its computed
// health score.
type ProxyInfo struct {
	ID          uint64     `json:"id"`
	IP          string     `json:"ip"`
	Port        uint16     `json:"port"`
	Address     string     `json:"address"`
	Protocol    string     `json:"protocol"`
	Username    string     `json:"username,omitempty"`
	Password    string     `json:"password,omitempty"`
	IsWorking   bool       `json:"is_working"`
	Latency     *float64   `json:"latency"`
	FailCount   uint32     `json:"fail_count"`
	LastChecked *time.Time `json:"last_checked"`
	LastUsed    *time.Time `json:"last_used"`
	Country     string     `json:"country,omitempty"`
	HealthScore float64    `json:"health_score"`
}

func proxyInfoOf(record domain.ProxyRecord) ProxyInfo {
	return ProxyInfo{
		ID:          record.ID,
		IP:          record.IP,
		Port:        record.Port,
		Address:     record.Address(),
		Protocol:    record.Protocol,
		Username:    record.Username,
		Password:    record.Password,
		IsWorking:   record.IsWorking,
		Latency:     record.Latency,
		FailCount:   record.FailCount,
		LastChecked: record.LastChecked,
		LastUsed:    record.LastUsed,
		Country:     record.Country,
		HealthScore: record.HealthScore(),
	}
}
