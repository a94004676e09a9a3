// Package config assembles the server configuration from defaults,
// .env files and environment variables.
package config

import (
	"net"
	"os"
	"runtime"
	"strconv"

	"github.com/imdario/mergo"
	"github.com/jiyeyuran/mediasoup-go"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/jiyeyuran/mediasoup-conference/internal/sfu"
)

type Config struct {
	App             App
	Redis           Redis
	Worker          Worker
	Router          Router
	WebRtcTransport WebRtcTransport
}

type App struct {
	// Listen is the address of the combined signaling and REST server.
	Listen string

	// NumWorkers is the size of the media worker pool. Defaults to the
	// number of CPU cores.
	NumWorkers int
}

type Redis struct {
	Addr     string
	Username string
	Password string
	DB       int
}

type Worker struct {
	LogLevel   string
	LogTags    []string
	RtcMinPort uint16
	RtcMaxPort uint16
}

type Router struct {
	MediaCodecs []*mediasoup.RtpCodecCapability
}

type WebRtcTransport struct {
	// ListenIp is the address workers bind for media. AnnouncedIp is
	// what clients are told to connect to; empty means autodetect the
	// first non-loopback IPv4 address.
	ListenIp    string
	AnnouncedIp string

	MaxIncomingBitrate              int
	InitialAvailableOutgoingBitrate int
}

// Default is the configuration the server runs with when nothing is
// overridden: opus and VP8, a 100 port RTC range and bitrate caps
// suited for simulcast camera video.
func Default() Config {
	return Config{
		App: App{
			Listen:     ":5000",
			NumWorkers: runtime.NumCPU(),
		},
		Redis: Redis{
			Addr: "127.0.0.1:8200",
		},
		Worker: Worker{
			LogLevel:   "debug",
			LogTags:    []string{"info", "ice", "dtls", "rtp", "srtp", "rtcp"},
			RtcMinPort: 10000,
			RtcMaxPort: 10100,
		},
		Router: Router{
			MediaCodecs: []*mediasoup.RtpCodecCapability{
				{
					Kind:      mediasoup.MediaKind_Audio,
					MimeType:  "audio/opus",
					ClockRate: 48000,
					Channels:  2,
				},
				{
					Kind:      mediasoup.MediaKind_Video,
					MimeType:  "video/VP8",
					ClockRate: 90000,
					Parameters: mediasoup.RtpCodecSpecificParameters{
						XGoogleStartBitrate: 1000,
					},
				},
			},
		},
		WebRtcTransport: WebRtcTransport{
			ListenIp:                        "0.0.0.0",
			MaxIncomingBitrate:              1500000,
			InitialAvailableOutgoingBitrate: 1000000,
		},
	}
}

// Load builds the configuration: an optional .env file, then process
// environment variables, then defaults for everything left unset.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, err
		}
	} else {
		// a missing default .env file is fine
		godotenv.Load()
	}

	cfg := fromEnv()
	if err := mergo.Merge(&cfg, Default()); err != nil {
		return Config{}, err
	}

	if cfg.WebRtcTransport.AnnouncedIp == "" {
		cfg.WebRtcTransport.AnnouncedIp = LocalIp()
	}

	return cfg, nil
}

func fromEnv() Config {
	var cfg Config

	cfg.App.Listen = os.Getenv("LISTEN")
	if port := os.Getenv("PORT"); cfg.App.Listen == "" && port != "" {
		cfg.App.Listen = ":" + port
	}
	cfg.App.NumWorkers = intEnv("NUM_WORKERS")

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	if host := os.Getenv("REDIS_HOST"); cfg.Redis.Addr == "" && host != "" {
		port := os.Getenv("REDIS_PORT")
		if port == "" {
			port = "8200"
		}
		cfg.Redis.Addr = net.JoinHostPort(host, port)
	}
	cfg.Redis.Username = os.Getenv("REDIS_USERNAME")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = intEnv("REDIS_DB")

	cfg.WebRtcTransport.AnnouncedIp = os.Getenv("ANNOUNCED_IP")

	return cfg
}

func intEnv(name string) int {
	value, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return 0
	}
	return value
}

// LocalIp returns the first non-loopback IPv4 address of the host, or
// 127.0.0.1 when none is found.
func LocalIp() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip := ipNet.IP.To4(); ip != nil {
			return ip.String()
		}
	}
	return "127.0.0.1"
}

// SfuOptions maps the configuration onto the media engine options.
func (c Config) SfuOptions() sfu.Options {
	return sfu.Options{
		WorkerLogLevel: c.Worker.LogLevel,
		WorkerLogTags:  c.Worker.LogTags,
		RtcMinPort:     c.Worker.RtcMinPort,
		RtcMaxPort:     c.Worker.RtcMaxPort,
		MediaCodecs:    c.Router.MediaCodecs,
		ListenIps: []mediasoup.TransportListenIp{
			{
				Ip:          c.WebRtcTransport.ListenIp,
				AnnouncedIp: c.WebRtcTransport.AnnouncedIp,
			},
		},
		MaxIncomingBitrate:              c.WebRtcTransport.MaxIncomingBitrate,
		InitialAvailableOutgoingBitrate: uint32(c.WebRtcTransport.InitialAvailableOutgoingBitrate),
	}
}

// RedisOptions maps the configuration onto the redis client options.
func (c Config) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Username: c.Redis.Username,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}
