// Config binds the operator-tunable knobs spec.md §6 enumerates
// (stream.*, pcre.*, bpf-filter, host-os-policy.<policy>) the same way the
// teacher bound Akita account credentials: a viper instance reading a YAML
// file under the config directory, overridable by environment variables.
package cfg

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/hillu/suricata-sub000/internal/ospolicy"
	"github.com/hillu/suricata-sub000/internal/tcpssn"
)

var settings = viper.New()

const settingsFileName = "config"

var osPolicyNames = map[string]ospolicy.Policy{
	"bsd":         ospolicy.BSD,
	"bsd-right":   ospolicy.BSDRight,
	"old-linux":   ospolicy.OldLinux,
	"linux":       ospolicy.Linux,
	"old-solaris": ospolicy.OldSolaris,
	"solaris":     ospolicy.Solaris,
	"hpux10":      ospolicy.HPUX10,
	"hpux11":      ospolicy.HPUX11,
	"irix":        ospolicy.IRIX,
	"windows":     ospolicy.Windows,
	"windows2k3":  ospolicy.Windows2K3,
	"vista":       ospolicy.Vista,
	"macos":       ospolicy.MacOS,
	"first":       ospolicy.First,
	"last":        ospolicy.Last,
}

func initSettings() {
	settings.SetConfigType("yaml")
	settings.AddConfigPath(cfgDir)
	settings.SetConfigName(settingsFileName)

	settings.SetDefault("stream.max_sessions", 262144)
	settings.SetDefault("stream.prealloc_sessions", 1024)
	settings.SetDefault("stream.memcap", 64*1024*1024)
	settings.SetDefault("stream.midstream", false)
	settings.SetDefault("stream.async_oneside", false)
	settings.SetDefault("stream.reassembly.memcap", 256*1024*1024)
	settings.SetDefault("stream.reassembly.depth", 0)
	settings.SetDefault("stream.checksum_validation", true)
	settings.SetDefault("pcre.match-limit", 3500)
	settings.SetDefault("pcre.match-limit-recursion", 1500)
	settings.SetDefault("bpf-filter", "tcp")

	settings.AutomaticEnv()
	settings.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := settings.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(err)
		}
	}
}

// StreamConfig builds a tcpssn.Config from the bound stream.* keys.
func StreamConfig() *tcpssn.Config {
	return &tcpssn.Config{
		ChecksumValidation: settings.GetBool("stream.checksum_validation"),
		Midstream:          settings.GetBool("stream.midstream"),
		AsyncOneSide:       settings.GetBool("stream.async_oneside"),
		ReassemblyDepth:    settings.GetInt("stream.reassembly.depth"),
		OSPolicyTable:      OSPolicyTable(),
		DefaultOSPolicy:    ospolicy.Default,
	}
}

// MaxSessions is the cap on concurrent TCP sessions (stream.max_sessions).
func MaxSessions() int { return settings.GetInt("stream.max_sessions") }

// PreallocSessions is the warm-pool size (stream.prealloc_sessions).
func PreallocSessions() int { return settings.GetInt("stream.prealloc_sessions") }

// StreamMemcap is the byte cap on session+segment memory (stream.memcap).
func StreamMemcap() int64 { return settings.GetInt64("stream.memcap") }

// ReassemblyMemcap is the byte cap on reassembly buffers
// (stream.reassembly.memcap).
func ReassemblyMemcap() int64 { return settings.GetInt64("stream.reassembly.memcap") }

// PcreMatchLimit and PcreMatchLimitRecursion bound RE2 evaluation cost per
// spec.md §6's pcre.match-limit{,-recursion} keys. RE2 has no backtracking
// to bound, so these are recorded for operator parity but not enforced (see
// DESIGN.md's discussion of internal/detect's pcre predicate).
func PcreMatchLimit() int          { return settings.GetInt("pcre.match-limit") }
func PcreMatchLimitRecursion() int { return settings.GetInt("pcre.match-limit-recursion") }

// BPFFilter is the capture filter string (bpf-filter).
func BPFFilter() string { return settings.GetString("bpf-filter") }

// OSPolicyTable builds an ospolicy.Table from the host-os-policy.<policy>
// CIDR lists, e.g.:
//
//	host-os-policy:
//	  windows: ["10.0.0.0/24"]
//	  linux: ["10.0.1.0/24"]
func OSPolicyTable() *ospolicy.Table {
	raw, _ := settings.Get("host-os-policy").(map[string]interface{})
	cidrs := make(map[ospolicy.Policy][]string, len(raw))
	for name, v := range raw {
		policy, ok := osPolicyNames[strings.ToLower(name)]
		if !ok {
			continue
		}
		switch list := v.(type) {
		case []interface{}:
			for _, c := range list {
				if s, ok := c.(string); ok {
					cidrs[policy] = append(cidrs[policy], s)
				}
			}
		case []string:
			cidrs[policy] = append(cidrs[policy], list...)
		}
	}
	return ospolicy.NewTable(cidrs, ospolicy.Default)
}
