package dto

import (
	"time"

	"proxywarden/internal/domain"
)

type ProxyInfo struct {
	URL          string     `json:"url"`
	IP           string     `json:"ip"`
	Port         uint16     `json:"port"`
	Protocol     string     `json:"protocol"`
	Country      string     `json:"country,omitempty"`
	Anonymity    string     `json:"anonymity,omitempty"`
	Source       string     `json:"source,omitempty"`
	Status       string     `json:"status"`
	ResponseTime *float64   `json:"response_time"`
	CollectedAt  time.Time  `json:"collected_at"`
	LastCheck    *time.Time `json:"last_check"`
}

func NewProxyInfo(proxy domain.Proxy) ProxyInfo {
	return ProxyInfo{
		URL:          proxy.URL(),
		IP:           proxy.Host,
		Port:         proxy.Port,
		Protocol:     string(proxy.Protocol),
		Country:      proxy.Country,
		Anonymity:    proxy.Anonymity,
		Source:       proxy.Source,
		Status:       proxy.Status.String(),
		ResponseTime: proxy.ResponseTime,
		CollectedAt:  proxy.CollectedAt,
		LastCheck:    proxy.LastCheckAt,
	}
}

type ProxyList struct {
	Proxies []ProxyInfo `json:"proxies"`
	Count   int         `json:"count"`
}

func NewProxyList(proxies []domain.Proxy) ProxyList {
	list := ProxyList{Proxies: make([]ProxyInfo, 0, len(proxies))}
	for _, proxy := range proxies {
		list.Proxies = append(list.Proxies, NewProxyInfo(proxy))
	}
	list.Count = len(list.Proxies)
	return list
}

type MarkFailedRequest struct {
	Proxy string `json:"proxy"`
}
