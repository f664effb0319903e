// Package config parses the gateway's process-environment configuration
// (spec §6): listen port, API keys, storage roots, signing key, sandbox
// profile paths, and per-language image identifiers. Byte-sized values
// follow the teacher's internal/runner/units.go convention of accepting SI
// and IEC suffixes via humanize.ParseBytes rather than bare integers.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-stack/stack"
	"github.com/jjeffery/kv"

	"github.com/forgerun/execgw/internal/execmodel"
	"github.com/forgerun/execgw/internal/limits"
	"github.com/forgerun/execgw/internal/ratelimit"
)

// APIKey is one parsed entry from the API_KEYS configuration value
// ("token:label:rps:burst").
type APIKey struct {
	Token string
	Label string
	Limits ratelimit.KeyLimits
}

// Config is everything the gateway's cmd/gateway/main.go needs to wire up
// the rest of the packages.
type Config struct {
	ListenAddr string

	APIKeys []APIKey

	WorkRoot    string
	StorageRoot string
	PublicURL   string
	SigningKey  []byte

	DefaultLimits limits.Defaults
	MaxLimits     limits.Maximums

	DefaultRatePerSec float64
	DefaultBurst      float64

	SeccompProfile  string
	AppArmorProfile string
	DevMode         bool

	Images map[execmodel.Language]string

	MirrorEndpoint  string
	MirrorAccessKey string
	MirrorSecretKey string
	MirrorBucket    string
	MirrorUseSSL    bool
}

// Flags declares every command-line flag this gateway accepts, mirroring
// the teacher's cmd/runner/main.go package-level flag.String/.. style. It
// must be called before flag.Parse.
type Flags struct {
	listenAddr  *string
	apiKeys     *string
	workRoot    *string
	storageRoot *string
	publicURL   *string
	signingKey  *string

	defWallMS   *int64
	maxWallMS   *int64
	defMemMiB   *int64
	maxMemMiB   *int64
	defCPUMS    *int64
	maxCPUMS    *int64
	defOutput   *string
	maxOutput   *string
	defArtBytes *string
	maxArtBytes *string
	defArtFiles *int64
	maxArtFiles *int64

	defRate *float64
	defBurst *float64

	seccompProfile  *string
	apparmorProfile *string
	devMode         *bool

	imagePython *string
	imageNode   *string
	imageRuby   *string
	imagePHP    *string
	imageGo     *string

	mirrorEndpoint  *string
	mirrorAccessKey *string
	mirrorSecretKey *string
	mirrorBucket    *string
	mirrorUseSSL    *bool
}

// NewFlags registers the gateway's flags against fs (normally flag.CommandLine).
func NewFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		listenAddr:  fs.String("listen", ":8080", "address the gateway's HTTP API listens on"),
		apiKeys:     fs.String("api-keys", "", "comma-separated API keys, each token:label:rps:burst"),
		workRoot:    fs.String("work-root", envOr("EXECGW_WORK_ROOT", "/var/run/execgw/work"), "shared workdir root visible to the sandbox"),
		storageRoot: fs.String("storage-root", envOr("EXECGW_STORAGE_ROOT", "/var/lib/execgw/storage"), "content-addressed artifact store root"),
		publicURL:   fs.String("public-url", "", "public base URL of the gateway; stored in Config.PublicURL but not used when minting signed links, which carry only the URL path"),
		signingKey:  fs.String("signing-key", envOr("EXECGW_SIGNING_KEY", ""), "HMAC key used to sign artifact download URLs"),

		defWallMS: fs.Int64("default-wall-ms", 10000, "default wall-clock timeout in milliseconds"),
		maxWallMS: fs.Int64("max-wall-ms", 60000, "maximum wall-clock timeout in milliseconds"),
		defMemMiB: fs.Int64("default-memory-mib", 256, "default memory cap in MiB"),
		maxMemMiB: fs.Int64("max-memory-mib", 1024, "maximum memory cap in MiB"),
		defCPUMS:  fs.Int64("default-cpu-ms", 10000, "default CPU quota in milliseconds"),
		maxCPUMS:  fs.Int64("max-cpu-ms", 60000, "maximum CPU quota in milliseconds"),
		defOutput: fs.String("default-output-bytes", "64kib", "default max captured output bytes per stream"),
		maxOutput: fs.String("max-output-bytes", "1mib", "maximum max captured output bytes per stream"),
		defArtBytes: fs.String("default-artifact-bytes", "16mib", "default max total artifact bytes"),
		maxArtBytes: fs.String("max-artifact-bytes", "64mib", "maximum max total artifact bytes"),
		defArtFiles: fs.Int64("default-artifact-files", 20, "default max artifact file count"),
		maxArtFiles: fs.Int64("max-artifact-files", 100, "maximum max artifact file count"),

		defRate:  fs.Float64("default-rate-per-sec", 2, "default per-tenant token bucket refill rate"),
		defBurst: fs.Float64("default-burst", 10, "default per-tenant token bucket burst size"),

		seccompProfile:  fs.String("seccomp-profile", "", "path to the seccomp profile applied to sandboxes"),
		apparmorProfile: fs.String("apparmor-profile", "", "path to the AppArmor profile applied to sandboxes"),
		devMode:         fs.Bool("dev-mode", false, "disable seccomp/AppArmor enforcement for local development"),

		imagePython: fs.String("image-python", "execgw/sandbox-python:latest", "sandbox image identifier for python"),
		imageNode:   fs.String("image-node", "execgw/sandbox-node:latest", "sandbox image identifier for node"),
		imageRuby:   fs.String("image-ruby", "execgw/sandbox-ruby:latest", "sandbox image identifier for ruby"),
		imagePHP:    fs.String("image-php", "execgw/sandbox-php:latest", "sandbox image identifier for php"),
		imageGo:     fs.String("image-go", "execgw/sandbox-go:latest", "sandbox image identifier for go"),

		mirrorEndpoint:  fs.String("mirror-endpoint", "", "S3-compatible endpoint to asynchronously mirror artifacts to; empty disables the mirror"),
		mirrorAccessKey: fs.String("mirror-access-key", envOr("EXECGW_MIRROR_ACCESS_KEY", ""), "access key for the mirror endpoint"),
		mirrorSecretKey: fs.String("mirror-secret-key", envOr("EXECGW_MIRROR_SECRET_KEY", ""), "secret key for the mirror endpoint"),
		mirrorBucket:    fs.String("mirror-bucket", "", "bucket name artifacts are mirrored into"),
		mirrorUseSSL:    fs.Bool("mirror-use-ssl", true, "use TLS when connecting to the mirror endpoint"),
	}
}

// Resolve builds a Config from parsed flags; call after flag.Parse.
func (f *Flags) Resolve() (cfg Config, err kv.Error) {
	apiKeys, perr := ParseAPIKeys(*f.apiKeys)
	if perr != nil {
		return cfg, perr
	}

	defOutput, errGo := humanize.ParseBytes(*f.defOutput)
	if errGo != nil {
		return cfg, kv.Wrap(errGo).With("field", "default-output-bytes").With("stack", stack.Trace().TrimRuntime())
	}
	maxOutput, errGo := humanize.ParseBytes(*f.maxOutput)
	if errGo != nil {
		return cfg, kv.Wrap(errGo).With("field", "max-output-bytes").With("stack", stack.Trace().TrimRuntime())
	}
	defArtBytes, errGo := humanize.ParseBytes(*f.defArtBytes)
	if errGo != nil {
		return cfg, kv.Wrap(errGo).With("field", "default-artifact-bytes").With("stack", stack.Trace().TrimRuntime())
	}
	maxArtBytes, errGo := humanize.ParseBytes(*f.maxArtBytes)
	if errGo != nil {
		return cfg, kv.Wrap(errGo).With("field", "max-artifact-bytes").With("stack", stack.Trace().TrimRuntime())
	}

	cfg = Config{
		ListenAddr:  *f.listenAddr,
		APIKeys:     apiKeys,
		WorkRoot:    *f.workRoot,
		StorageRoot: *f.storageRoot,
		PublicURL:   *f.publicURL,
		SigningKey:  []byte(*f.signingKey),

		DefaultLimits: limits.Defaults{Values: limits.Limits{
			WallMS: *f.defWallMS, MemoryMiB: *f.defMemMiB, CPUMS: *f.defCPUMS,
			MaxOutputBytes: int64(defOutput), MaxArtifactByte: int64(defArtBytes), MaxArtifactFile: *f.defArtFiles,
		}},
		MaxLimits: limits.Maximums{Values: limits.Limits{
			WallMS: *f.maxWallMS, MemoryMiB: *f.maxMemMiB, CPUMS: *f.maxCPUMS,
			MaxOutputBytes: int64(maxOutput), MaxArtifactByte: int64(maxArtBytes), MaxArtifactFile: *f.maxArtFiles,
		}},

		DefaultRatePerSec: *f.defRate,
		DefaultBurst:      *f.defBurst,

		SeccompProfile:  *f.seccompProfile,
		AppArmorProfile: *f.apparmorProfile,
		DevMode:         *f.devMode,

		Images: map[execmodel.Language]string{
			execmodel.LangPython: *f.imagePython,
			execmodel.LangNode:   *f.imageNode,
			execmodel.LangRuby:   *f.imageRuby,
			execmodel.LangPHP:    *f.imagePHP,
			execmodel.LangGo:     *f.imageGo,
		},

		MirrorEndpoint:  *f.mirrorEndpoint,
		MirrorAccessKey: *f.mirrorAccessKey,
		MirrorSecretKey: *f.mirrorSecretKey,
		MirrorBucket:    *f.mirrorBucket,
		MirrorUseSSL:    *f.mirrorUseSSL,
	}
	return cfg, nil
}

// ParseAPIKeys parses the comma-separated "token:label:rps:burst" format of
// spec §6. rps and burst are optional per entry; a missing value means
// "use the limiter's defaults".
func ParseAPIKeys(csv string) ([]APIKey, kv.Error) {
	if strings.TrimSpace(csv) == "" {
		return nil, nil
	}
	var keys []APIKey
	for _, entry := range strings.Split(csv, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 {
			return nil, kv.NewError("malformed API key entry, expected token:label[:rps:burst]").With("entry", entry).With("stack", stack.Trace().TrimRuntime())
		}
		key := APIKey{Token: parts[0], Label: parts[1]}
		if len(parts) >= 3 && parts[2] != "" {
			rps, errGo := strconv.ParseFloat(parts[2], 64)
			if errGo != nil {
				return nil, kv.Wrap(errGo).With("entry", entry).With("stack", stack.Trace().TrimRuntime())
			}
			key.Limits.RatePerSec = rps
		}
		if len(parts) >= 4 && parts[3] != "" {
			burst, errGo := strconv.ParseFloat(parts[3], 64)
			if errGo != nil {
				return nil, kv.Wrap(errGo).With("entry", entry).With("stack", stack.Trace().TrimRuntime())
			}
			key.Limits.Burst = burst
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
