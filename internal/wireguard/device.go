package wireguard

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/pkg/errors"
	"golang.zx2c4.com/wireguard/wgctrl"
)

// PeerStatus is the runtime state of one peer.
type PeerStatus struct {
	PublicKey     string
	Endpoint      string
	LastHandshake time.Time
	Received      int64
	Sent          int64
}

// DeviceStatus is the runtime state of a WireGuard interface.
type DeviceStatus struct {
	Name       string
	PublicKey  string
	ListenPort int
	Peers      []PeerStatus
}

// Report formats the status one line per fact, relative to now.
func (d *DeviceStatus) Report(now time.Time) []string {
	lines := []string{
		fmt.Sprintf("interface %s listening on %d (public key %s)", d.Name, d.ListenPort, d.PublicKey),
	}
	if len(d.Peers) == 0 {
		return append(lines, "no peers configured")
	}
	for _, p := range d.Peers {
		handshake := "never"
		if !p.LastHandshake.IsZero() {
			handshake = now.Sub(p.LastHandshake).Truncate(time.Second).String() + " ago"
		}
		endpoint := p.Endpoint
		if endpoint == "" {
			endpoint = "(none)"
		}
		lines = append(lines, fmt.Sprintf("peer %s endpoint %s handshake %s rx %d tx %d",
			p.PublicKey, endpoint, handshake, p.Received, p.Sent))
	}
	return lines
}

// Connected reports whether any peer completed a handshake within window.
func (d *DeviceStatus) Connected(now time.Time, window time.Duration) bool {
	for _, p := range d.Peers {
		if !p.LastHandshake.IsZero() && now.Sub(p.LastHandshake) <= window {
			return true
		}
	}
	return false
}

// Inspector reads live WireGuard device state.
type Inspector interface {
	io.Closer
	Device(name string) (*DeviceStatus, error)
}

// NewInspector returns a wgctrl backed inspector, or a dev inspector when
// dryRun is set.
func NewInspector(dryRun bool) (Inspector, error) {
	if dryRun {
		return NewDevInspector(), nil
	}
	client, err := wgctrl.New()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create wgctrl client")
	}
	return &wgctrlInspector{client: client}, nil
}

type wgctrlInspector struct {
	client *wgctrl.Client
}

func (i *wgctrlInspector) Device(name string) (*DeviceStatus, error) {
	device, err := i.client.Device(name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get device "+name)
	}
	status := &DeviceStatus{
		Name:       device.Name,
		PublicKey:  device.PublicKey.String(),
		ListenPort: device.ListenPort,
	}
	for _, peer := range device.Peers {
		p := PeerStatus{
			PublicKey:     peer.PublicKey.String(),
			LastHandshake: peer.LastHandshakeTime,
			Received:      peer.ReceiveBytes,
			Sent:          peer.TransmitBytes,
		}
		if peer.Endpoint != nil {
			p.Endpoint = peer.Endpoint.String()
		}
		status.Peers = append(status.Peers, p)
	}
	return status, nil
}

func (i *wgctrlInspector) Close() error {
	if i.client != nil {
		return i.client.Close()
	}
	return nil
}

// DevInspector reports a placeholder device without touching the kernel.
type DevInspector struct{}

// NewDevInspector creates a dev inspector.
func NewDevInspector() *DevInspector {
	log.Println("--- create dummy dev inspector ---")
	return &DevInspector{}
}

func (d *DevInspector) Device(name string) (*DeviceStatus, error) {
	log.Printf("dev inspector reports dummy device %s", name)
	return &DeviceStatus{
		Name:       name,
		PublicKey:  "<public_key>",
		ListenPort: 51820,
		Peers:      []PeerStatus{{PublicKey: "<peer_public_key>"}},
	}, nil
}

func (d *DevInspector) Close() error {
	log.Println("dev inspector closed")
	return nil
}
