package artnet

import (
	"net"
	"strings"
)

// CandidateInterface is one interface InterfaceResolver offers up,
// ranked best-first.
type CandidateInterface struct {
	Name      string
	LocalIP   net.IP
	Broadcast net.IP
	MAC       net.HardwareAddr
}

// InterfaceResolver yields candidate interfaces for Client to bind
// and broadcast on; it is an external collaborator per spec.md §1,
// exposed here as a Go interface so integrators can override the
// ranking policy entirely.
type InterfaceResolver interface {
	Resolve() ([]CandidateInterface, error)
}

// DefaultInterfaceResolver implements spec.md §6's four-tier ranking:
//  1. IP in 2.0.0.0/8 with netmask 255.0.0.0
//  2. name starts with "enp"
//  3. name starts with "wlp"
//  4. any other IPv4 interface
type DefaultInterfaceResolver struct{}

var artNetDefaultNet = net.IPNet{
	IP:   net.IPv4(2, 0, 0, 0),
	Mask: net.IPv4Mask(255, 0, 0, 0),
}

func (DefaultInterfaceResolver) Resolve() ([]CandidateInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var tier1, tier2, tier3, tier4 []CandidateInterface

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}
			mask := ipnet.Mask
			if len(mask) != 4 {
				continue
			}

			bcast := make(net.IP, 4)
			for i := 0; i < 4; i++ {
				bcast[i] = ip4[i] | ^mask[i]
			}

			cand := CandidateInterface{
				Name:      iface.Name,
				LocalIP:   ip4,
				Broadcast: bcast,
				MAC:       iface.HardwareAddr,
			}

			switch {
			case artNetDefaultNet.Contains(ip4) && sameMask(mask, artNetDefaultNet.Mask):
				tier1 = append(tier1, cand)
			case strings.HasPrefix(iface.Name, "enp"):
				tier2 = append(tier2, cand)
			case strings.HasPrefix(iface.Name, "wlp"):
				tier3 = append(tier3, cand)
			default:
				tier4 = append(tier4, cand)
			}
		}
	}

	out := make([]CandidateInterface, 0, len(tier1)+len(tier2)+len(tier3)+len(tier4))
	out = append(out, tier1...)
	out = append(out, tier2...)
	out = append(out, tier3...)
	out = append(out, tier4...)
	return out, nil
}

func sameMask(a, b net.IPMask) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ResolveByName returns the single named interface as a candidate,
// bypassing ranking — used when Config.Interface is set explicitly.
func ResolveByName(name string) (CandidateInterface, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return CandidateInterface{}, ErrUnknownInterface
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return CandidateInterface{}, ErrUnknownInterface
	}

	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		mask := ipnet.Mask
		if len(mask) != 4 {
			continue
		}
		bcast := make(net.IP, 4)
		for i := 0; i < 4; i++ {
			bcast[i] = ip4[i] | ^mask[i]
		}
		return CandidateInterface{
			Name:      iface.Name,
			LocalIP:   ip4,
			Broadcast: bcast,
			MAC:       iface.HardwareAddr,
		}, nil
	}

	return CandidateInterface{}, ErrUnknownInterface
}
