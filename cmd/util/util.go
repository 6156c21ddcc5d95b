package util

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/ValentinKolb/dDoc/rpc/transport/http"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables read by the cli
	EnvPrefix = "ddoc"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes viper read DDOC_* environment variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// --------------------------------------------------------------------------
// Client setup
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command, defaultShard int) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "endpoints"
	cmd.PersistentFlags().String(key, "http://localhost:8080", WrapString("Comma-separated list of server addresses. Requests fail over to the next endpoint if one is unreachable"))

	key = "retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to retry a request per endpoint"))

	key = "shard"
	cmd.PersistentFlags().Int(key, defaultShard, WrapString("ID of the shard to connect to"))
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.InheritedFlags())
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	var endpoints []string
	for _, e := range strings.Split(viper.GetString("endpoints"), ",") {
		if e = strings.TrimSpace(e); e != "" {
			endpoints = append(endpoints, e)
		}
	}
	return &common.ClientConfig{
		Endpoints:     endpoints,
		TimeoutSecond: viper.GetInt("timeout"),
		RetryCount:    viper.GetInt("retries"),
	}
}

// GetSerializer creates the serializer selected by the serializer flag
func GetSerializer() (serializer.IRPCSerializer, error) {
	name := viper.GetString("serializer")
	s, ok := serializer.ByName(name)
	if !ok {
		return nil, fmt.Errorf("invalid serializer %s (expected json or msgpack)", name)
	}
	return s, nil
}

// GetTransport creates the client transport
func GetTransport() transport.IRPCClientTransport {
	return http.NewHttpClientTransport()
}

// GetShardID retrieves the configured shard ID
func GetShardID() uint64 {
	return uint64(viper.GetInt("shard"))
}

// NewStore connects a store client with the configuration of the command
func NewStore(cmd *cobra.Command) (store.IStore, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, err
	}
	s, err := GetSerializer()
	if err != nil {
		return nil, err
	}
	return client.NewRPCStore(GetShardID(), *GetClientConfig(), GetTransport(), s)
}

// --------------------------------------------------------------------------
// Parsing and output
// --------------------------------------------------------------------------

// ReplicaID maps a replica name to its numeric id. Numeric names are used as
// is, other names are hashed (FNV-1a).
func ReplicaID(name string) uint64 {
	if id, err := strconv.ParseUint(name, 10, 64); err == nil && id != 0 {
		return id
	}

	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	hash := uint64(offset64)
	for i := 0; i < len(name); i++ {
		hash ^= uint64(name[i])
		hash *= prime64
	}
	return hash
}

// ParseJSONObject parses a command line argument holding a JSON object. An
// empty argument is an empty object.
func ParseJSONObject(arg string) (map[string]any, error) {
	obj := map[string]any{}
	if strings.TrimSpace(arg) == "" {
		return obj, nil
	}
	if err := json.Unmarshal([]byte(arg), &obj); err != nil {
		return nil, fmt.Errorf("invalid JSON object %q: %w", arg, err)
	}
	return obj, nil
}

// ParseJSONValue parses a JSON value, falling back to the raw string if arg
// is not valid JSON.
func ParseJSONValue(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}
	return v
}

// PrintJSON writes v as indented JSON to stdout
func PrintJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
