package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// appConfig holds both the mandated positional protocol arguments and the
// additional ambient flags layered on after them.
type appConfig struct {
	connectionLimit uint32
	maxImageBytes   uint32
	portArg         string

	logFormat       string
	logLevel        string
	metricsAddr     string
	scratchFile     string
	faceCascade     string
	eyeCascade      string
	badPrefixFile   string
	logMetricsEvery time.Duration
}

const usageLine = "Usage: ./facedetect-server connectionlimit maxsize [portnumber]"

// parseArgs reads the mandated connectionLimit/maxSize/[portnum] positional
// arguments the way uqfacedetect reads argv[1]/argv[2]/argv[3], then hands
// whatever follows to a flag.FlagSet for the Go-only ambient knobs. Any
// parse/validation failure of the positional arguments prints usageLine and
// returns exit code 19, mirroring spec section 6.1 verbatim.
func parseArgs(args []string) (*appConfig, int) {
	var positional []string
	i := 0
	for i < len(args) && len(positional) < 3 {
		if strings.HasPrefix(args[i], "-") {
			break
		}
		positional = append(positional, args[i])
		i++
	}
	if len(positional) < 2 {
		fmt.Fprintln(os.Stderr, usageLine)
		return nil, 19
	}

	connLimit, err := parseCmdLineNumber(positional[0])
	if err != nil || connLimit > 10000 {
		fmt.Fprintln(os.Stderr, usageLine)
		return nil, 19
	}
	maxSize, err := parseCmdLineNumber(positional[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, usageLine)
		return nil, 19
	}

	portArg := ""
	if len(positional) == 3 {
		portArg = positional[2]
		if portArg != "" && portArg != "0" {
			// Only the number format and the 32-bit range of
			// parseCmdLineNumber are checked here: a numeric port above
			// 65535 is forwarded to the listener, which fails at bind
			// time with exit code 10, not here.
			if _, err := parseCmdLineNumber(portArg); err != nil {
				fmt.Fprintln(os.Stderr, usageLine)
				return nil, 19
			}
		}
	}

	cfg := &appConfig{
		connectionLimit: connLimit,
		maxImageBytes:   maxSize,
		portArg:         portArg,
	}

	fs := flag.NewFlagSet("facedetect-server", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	logFormat := fs.String("log-format", "text", "Log format: text|json")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := fs.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	scratchFile := fs.String("scratch-file", "", "Scratch file path for the codec's on-disk staging buffer; empty decodes/encodes in memory")
	faceCascade := fs.String("face-cascade", "haarcascade_frontalface_default.xml", "Path to the face Haar cascade XML file")
	eyeCascade := fs.String("eye-cascade", "haarcascade_eye.xml", "Path to the eye Haar cascade XML file")
	badPrefixFile := fs.String("bad-prefix-file", "bad-prefix.bin", "Path to the canned response file served on a malformed prefix")
	logMetricsEvery := fs.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	if err := fs.Parse(args[i:]); err != nil || fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, usageLine)
		return nil, 19
	}

	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.scratchFile = *scratchFile
	cfg.faceCascade = *faceCascade
	cfg.eyeCascade = *eyeCascade
	cfg.badPrefixFile = *badPrefixFile
	cfg.logMetricsEvery = *logMetricsEvery

	applyEnvOverrides(cfg, fs)
	return cfg, 0
}

// parseCmdLineNumber accepts an optional leading '+' before decimal digits,
// mirroring facedetect.c's valid_cmd_line_number.
func parseCmdLineNumber(s string) (uint32, error) {
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not a decimal number: %q", s)
		}
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

// applyEnvOverrides maps FACEDETECT_SERVER_* environment variables onto
// cfg's ambient flags, unless the corresponding flag was explicitly set
// (flags win), the same precedence can-server's applyEnvOverrides gives.
func applyEnvOverrides(c *appConfig, fs *flag.FlagSet) {
	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })
	get := func(k string) (string, bool) {
		v, ok := os.LookupEnv(k)
		return strings.TrimSpace(v), ok
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("FACEDETECT_SERVER_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("FACEDETECT_SERVER_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("FACEDETECT_SERVER_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["scratch-file"]; !ok {
		if v, ok := get("FACEDETECT_SERVER_SCRATCH_FILE"); ok {
			c.scratchFile = v
		}
	}
	if _, ok := set["face-cascade"]; !ok {
		if v, ok := get("FACEDETECT_SERVER_FACE_CASCADE"); ok && v != "" {
			c.faceCascade = v
		}
	}
	if _, ok := set["eye-cascade"]; !ok {
		if v, ok := get("FACEDETECT_SERVER_EYE_CASCADE"); ok && v != "" {
			c.eyeCascade = v
		}
	}
	if _, ok := set["bad-prefix-file"]; !ok {
		if v, ok := get("FACEDETECT_SERVER_BAD_PREFIX_FILE"); ok && v != "" {
			c.badPrefixFile = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("FACEDETECT_SERVER_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			}
		}
	}
}
