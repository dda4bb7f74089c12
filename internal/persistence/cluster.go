package persistence

import (
	"context"
)

// ClusterNode is one entry of the read-only cluster inventory: the engine
// node's runtime stats plus the context-server endpoints this process
// advertises.
type ClusterNode struct {
	HostName          string    `json:"hostName"`
	HostAddress       string    `json:"hostAddress"`
	PublicHostAddress string    `json:"publicHostAddress"`
	PublicPort        int       `json:"publicPort"`
	SecureHostAddress string    `json:"secureHostAddress"`
	SecurePort        int       `json:"securePort"`
	Master            bool      `json:"master"`
	Data              bool      `json:"data"`
	CPULoad           float64   `json:"cpuLoad"`
	LoadAverage       []float64 `json:"loadAverage"`
	UptimeSeconds     int64     `json:"uptime"`
}

// GetClusterNodes reports the engine nodes with this process's configured
// context-server addresses attached.
func (s *Service) GetClusterNodes(ctx context.Context) ([]ClusterNode, error) {
	var nodes []ClusterNode
	err := s.remote(ctx, "nodesStats", "", func(ctx context.Context) error {
		stats, statsErr := s.store.NodesStats(ctx)
		if statsErr != nil {
			return statsErr
		}
		cs := s.cfg.ContextServer
		for _, n := range stats {
			nodes = append(nodes, ClusterNode{
				HostName:          n.HostName,
				HostAddress:       n.Addr,
				PublicHostAddress: cs.Address,
				PublicPort:        cs.Port,
				SecureHostAddress: cs.SecureAddress,
				SecurePort:        cs.SecurePort,
				Master:            n.Master,
				Data:              n.Data,
				CPULoad:           n.CPUPercent,
				LoadAverage:       n.LoadAverage,
				UptimeSeconds:     n.UptimeSeconds,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}
