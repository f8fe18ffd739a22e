package config

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/creasty/defaults"
	jsoniter "github.com/json-iterator/go"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatUnknown Format = "unknown"
	FormatYAML    Format = "yaml"
	FormatJSON    Format = "json"
	FormatTOML    Format = "toml"
)

func formatFromFilename(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	case ".json":
		return FormatJSON
	default:
		return FormatUnknown
	}
}

func formatFromResponse(resp *http.Response) Format {
	contentType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	switch strings.TrimSpace(contentType) {
	case "application/json", "text/json":
		return FormatJSON
	case "application/x-toml", "application/toml", "text/x-toml", "text/toml":
		return FormatTOML
	case "application/x-yaml", "application/yaml", "text/x-yaml", "text/yaml":
		return FormatYAML
	default:
		return FormatUnknown
	}
}

// getReaderFor opens a config location, which is either a path (optionally
// with a file:// scheme) or an http(s) URL.
func getReaderFor(u string) (io.ReadCloser, Format, error) {
	if u == "" {
		return nil, FormatUnknown, fmt.Errorf("empty url")
	}
	uu, err := url.Parse(u)
	if err != nil {
		return nil, FormatUnknown, err
	}
	switch uu.Scheme {
	case "file", "":
		r, err := os.Open(uu.Path)
		if err != nil {
			return nil, FormatUnknown, err
		}
		return r, formatFromFilename(uu.Path), nil
	case "http", "https":
		resp, err := http.Get(u)
		if err != nil {
			return nil, FormatUnknown, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, FormatUnknown, fmt.Errorf("fetching %s: unexpected status %s", u, resp.Status)
		}
		format := formatFromResponse(resp)
		if format == FormatUnknown {
			format = formatFromFilename(uu.Path)
		}
		return resp.Body, format, nil
	default:
		return nil, FormatUnknown, fmt.Errorf("unknown scheme %q", uu.Scheme)
	}
}

func load(r io.Reader, format Format, into any) error {
	switch format {
	case FormatYAML:
		return yaml.NewDecoder(r).Decode(into)
	case FormatTOML:
		return toml.NewDecoder(r).Decode(into)
	case FormatJSON:
		return jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(r).Decode(into)
	default:
		return fmt.Errorf("unable to determine data format")
	}
}

// loadConfigsInto loads every location into dest in order, so later files
// override earlier ones field by field. It returns the MD5 of everything read.
func loadConfigsInto(dest any, locations []string) (string, error) {
	h := md5.New()
	for _, location := range locations {
		location := strings.TrimSpace(location)
		if err := loadOne(dest, location, h); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func loadOne(dest any, location string, h io.Writer) error {
	r, format, err := getReaderFor(location)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := load(io.TeeReader(r, h), format, dest); err != nil {
		return fmt.Errorf("loadConfigsInto unable to load config %s: %w", location, err)
	}
	return nil
}

// readConfigInto loads the configs, then fills zero values from `default`
// tags, then applies command line and environment overrides.
func readConfigInto(dest any, locations []string, opts *CmdEnv) (string, error) {
	hash, err := loadConfigsInto(dest, locations)
	if err != nil {
		return hash, err
	}

	if err := defaults.Set(dest); err != nil {
		return hash, fmt.Errorf("readConfigInto unable to apply defaults: %w", err)
	}

	if opts == nil {
		return hash, nil
	}

	if err := opts.ApplyTags(reflect.ValueOf(dest)); err != nil {
		return hash, fmt.Errorf("readConfigInto unable to apply command line options: %w", err)
	}

	return hash, nil
}

// ValidateConfig loads and validates the configs named in opts without
// keeping the result. It backs the --validate flag.
func ValidateConfig(opts *CmdEnv) error {
	var c configContents
	if _, err := readConfigInto(&c, opts.ConfigLocations, opts); err != nil {
		return err
	}
	return c.validate()
}

// ConfigHashMetrics turns the last 4 hex digits of a config hash into an
// integer suitable for a gauge. It returns 0 for anything unparseable.
func ConfigHashMetrics(hash string) int64 {
	if len(hash) < 4 {
		return 0
	}
	v, err := strconv.ParseInt(hash[len(hash)-4:], 16, 64)
	if err != nil {
		return 0
	}
	return v
}
