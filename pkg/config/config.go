// Package config loads remoteio settings from defaults, an optional config
// file and REMOTEIO_* environment variables, in increasing precedence.
package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	audioconfig "remoteio/internal/audio/config"
	"remoteio/pkg/system"
)

const EnvPrefix = "REMOTEIO"

var ErrConfig = errors.New("invalid configuration")

type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Devices DevicesConfig `mapstructure:"devices"`
	Server  ServerConfig  `mapstructure:"server"`
	Client  ClientConfig  `mapstructure:"client"`
	Local   LocalConfig   `mapstructure:"local"`
	Control ControlConfig `mapstructure:"control"`
	WebRTC  WebRTCConfig  `mapstructure:"webrtc"`
	P2P     P2PConfig     `mapstructure:"p2p"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type DevicesConfig struct {
	// Backend is host, file or virtual.
	Backend string   `mapstructure:"backend"`
	Dir     string   `mapstructure:"dir"`
	Sinks   []string `mapstructure:"sinks"`
}

type ServerConfig struct {
	// Transport is websocket, datagram, p2p or webrtc.
	Transport     string        `mapstructure:"transport"`
	Listen        string        `mapstructure:"listen"`
	Output        string        `mapstructure:"output"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	JitterBatches int           `mapstructure:"jitter_batches"`
	TLS           bool          `mapstructure:"tls"`
}

type ClientConfig struct {
	Transport  string `mapstructure:"transport"`
	Remote     string `mapstructure:"remote"`
	Alias      string `mapstructure:"alias"`
	Input      string `mapstructure:"input"`
	Mode       string `mapstructure:"mode"`
	FrameSize  uint32 `mapstructure:"frame_size"`
	QueueDepth int    `mapstructure:"queue_depth"`
	// Insecure accepts self-signed wss certificates.
	Insecure bool `mapstructure:"insecure"`
}

type LocalConfig struct {
	Latency time.Duration `mapstructure:"latency"`
	// Topology maps producer (input) names to consumer (output) names.
	Topology map[string]string `mapstructure:"topology"`
}

type ControlConfig struct {
	// Listen is the control plane address; empty disables it.
	Listen  string `mapstructure:"listen"`
	Console bool   `mapstructure:"console"`
}

type WebRTCConfig struct {
	STUNServers    []string `mapstructure:"stun_servers"`
	TURNServers    []string `mapstructure:"turn_servers"`
	TURNUsername   string   `mapstructure:"turn_username"`
	TURNCredential string   `mapstructure:"turn_credential"`
	Loopback       bool     `mapstructure:"loopback"`
	ProbeSTUN      bool     `mapstructure:"probe_stun"`
}

type P2PConfig struct {
	ListenPort int           `mapstructure:"listen_port"`
	Rendezvous string        `mapstructure:"rendezvous"`
	ProtocolID string        `mapstructure:"protocol_id"`
	DHT        bool          `mapstructure:"dht"`
	MDNSWait   time.Duration `mapstructure:"mdns_wait"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("devices.backend", "host")
	v.SetDefault("devices.dir", "")
	v.SetDefault("devices.sinks", []string{})

	v.SetDefault("server.transport", "websocket")
	v.SetDefault("server.listen", "0.0.0.0:8000")
	v.SetDefault("server.output", "")
	v.SetDefault("server.sweep_interval", time.Second)
	v.SetDefault("server.idle_timeout", 10*time.Second)
	v.SetDefault("server.jitter_batches", audioconfig.JitterBatches)
	v.SetDefault("server.tls", false)

	v.SetDefault("client.transport", "websocket")
	v.SetDefault("client.remote", "127.0.0.1:8000")
	v.SetDefault("client.alias", "")
	v.SetDefault("client.input", "")
	v.SetDefault("client.mode", "stream")
	v.SetDefault("client.frame_size", audioconfig.StreamFrameSize)
	v.SetDefault("client.queue_depth", 32)
	v.SetDefault("client.insecure", false)

	v.SetDefault("local.latency", audioconfig.BridgeLatency)
	v.SetDefault("local.topology", map[string]string{})

	v.SetDefault("control.listen", "")
	v.SetDefault("control.console", false)

	v.SetDefault("webrtc.stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("webrtc.turn_servers", []string{})
	v.SetDefault("webrtc.turn_username", "")
	v.SetDefault("webrtc.turn_credential", "")
	v.SetDefault("webrtc.loopback", false)
	v.SetDefault("webrtc.probe_stun", false)

	v.SetDefault("p2p.listen_port", 0)
	v.SetDefault("p2p.rendezvous", "")
	v.SetDefault("p2p.protocol_id", "")
	v.SetDefault("p2p.dht", false)
	v.SetDefault("p2p.mdns_wait", 10*time.Second)
}

// Load reads configuration. path may name a yaml, json, toml or .env file;
// an empty or missing path leaves defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: read %s: %w", ErrConfig, path, err)
			}
			log.Info().Str("configFilePath", path).Msg("No config file found")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Devices.Backend {
	case "host", "virtual":
	case "file":
		if c.Devices.Dir == "" {
			errs = append(errs, errors.New("devices.dir is required for the file backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown devices.backend %q", c.Devices.Backend))
	}
	for _, t := range []string{c.Server.Transport, c.Client.Transport} {
		switch t {
		case "websocket", "datagram", "p2p", "webrtc":
		default:
			errs = append(errs, fmt.Errorf("unknown transport %q", t))
		}
	}
	switch c.Client.Mode {
	case "stream", "multiplexed", "packet", "alias":
	default:
		errs = append(errs, fmt.Errorf("unknown client.mode %q", c.Client.Mode))
	}
	if c.Server.SweepInterval <= 0 {
		errs = append(errs, errors.New("server.sweep_interval must be positive"))
	}
	if c.Server.JitterBatches <= 0 {
		errs = append(errs, errors.New("server.jitter_batches must be positive"))
	}
	if c.Client.FrameSize == 0 {
		errs = append(errs, errors.New("client.frame_size must be positive"))
	}
	if len(c.Client.Alias) > 0xFFFF {
		errs = append(errs, errors.New("client.alias is too long"))
	}
	if c.Local.Latency <= 0 {
		errs = append(errs, errors.New("local.latency must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

func getServersFromString(servers []string) []string {
	var out []string
	for _, entry := range servers {
		for _, server := range strings.Split(entry, ",") {
			if server = strings.TrimSpace(server); server != "" {
				out = append(out, server)
			}
		}
	}
	return out
}

// ICEServers returns the STUN servers followed by the TURN servers.
func (c WebRTCConfig) ICEServers() []webrtc.ICEServer {
	stunList := getServersFromString(c.STUNServers)
	turnList := getServersFromString(c.TURNServers)

	servers := make([]webrtc.ICEServer, 0, len(stunList)+len(turnList))
	for _, server := range stunList {
		servers = append(servers, webrtc.ICEServer{URLs: []string{server}})
	}
	if len(turnList) == 0 {
		log.Debug().Msg("No TURN servers configured, some connections may fail")
	}
	for _, server := range turnList {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{server},
			Username:   c.TURNUsername,
			Credential: c.TURNCredential,
		})
	}
	return servers
}

// GenerateSelfSignedCert creates a certificate for localhost, 127.0.0.1 and
// the first LAN address.
func GenerateSelfSignedCert() (tls.Certificate, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"remoteio"},
		},
		NotBefore:   time.Now().Add(-time.Minute),
		NotAfter:    time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1)},
		DNSNames:    []string{"localhost"},
	}

	localIP := system.GetLocalIP()
	if localIP != "" {
		template.IPAddresses = append(template.IPAddresses, net.ParseIP(localIP))
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})

	return tls.X509KeyPair(certPEM, keyPEM)
}

// ServerTLS wraps a fresh self-signed certificate.
func ServerTLS() (*tls.Config, error) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}
