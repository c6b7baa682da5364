package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/core/fault"
	"github.com/vadiminshakov/threepc/core/group"
	"github.com/vadiminshakov/threepc/core/hooks"
	"gopkg.in/yaml.v3"
)

const (
	TransportGRPC = "grpc"
	TransportZMQ  = "zmq"
)

type Config struct {
	Role                   string   `yaml:"role"`
	ID                     uint64   `yaml:"id"`
	Nodeaddr               string   `yaml:"nodeaddr"`
	Coordinator            string   `yaml:"coordinator"`
	Participants           []string `yaml:"participants"`
	Transport              string   `yaml:"transport"`
	Timeout                uint64   `yaml:"timeout"`
	CrashProbability       float64  `yaml:"crash_probability"`
	WorkFailureProbability float64  `yaml:"work_failure_probability"`
	WALDir                 string   `yaml:"wal_dir"`
	DBPath                 string   `yaml:"dbpath"`
	Whitelist              []string `yaml:"whitelist"`
	MetricsAddr            string   `yaml:"metrics_addr"`
}

func defaults() *Config {
	return &Config{
		Role:                   string(dto.RoleParticipant),
		Transport:              TransportGRPC,
		Timeout:                1000,
		CrashProbability:       fault.DefaultCrashProbability,
		WorkFailureProbability: hooks.DefaultFailureProbability,
		WALDir:                 "./wal",
		DBPath:                 "./badger",
		Whitelist:              []string{"127.0.0.1"},
	}
}

// Get creates configuration from yaml configuration file (if '-config=' flag specified) or command-line arguments.
func Get() (*Config, error) {
	return Parse(os.Args[1:])
}

// Parse reads args. Values from the yaml file are overridden by flags set explicitly.
func Parse(args []string) (*Config, error) {
	conf := defaults()

	var (
		path         string
		participants string
		whitelist    string
	)

	fs := flag.NewFlagSet("threepc", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "path to yaml configuration file")
	fs.StringVar(&conf.Role, "role", conf.Role, "role (coordinator or participant)")
	fs.Uint64Var(&conf.ID, "id", conf.ID, "process id, unique in the group")
	fs.StringVar(&conf.Nodeaddr, "nodeaddr", conf.Nodeaddr, "listen address, defaults to the roster address of this process")
	fs.StringVar(&conf.Coordinator, "coordinator", conf.Coordinator, "coordinator, id=host:port")
	fs.StringVar(&participants, "participants", "", "comma separated participants, id=host:port")
	fs.StringVar(&conf.Transport, "transport", conf.Transport, "grpc or zmq")
	fs.Uint64Var(&conf.Timeout, "timeout", conf.Timeout, "ms, timeout after which a silent peer is considered crashed")
	fs.Float64Var(&conf.CrashProbability, "crash", conf.CrashProbability, "probability that the coordinator crashes at each checkpoint")
	fs.Float64Var(&conf.WorkFailureProbability, "workfailure", conf.WorkFailureProbability, "probability that the local work of a participant fails")
	fs.StringVar(&conf.WALDir, "waldir", conf.WALDir, "stable log directory")
	fs.StringVar(&conf.DBPath, "dbpath", conf.DBPath, "database path on filesystem")
	fs.StringVar(&whitelist, "whitelist", "", "allowed hosts")
	fs.StringVar(&conf.MetricsAddr, "metrics", conf.MetricsAddr, "prometheus listen address, empty disables metrics")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}
		if err = yaml.Unmarshal(data, conf); err != nil {
			return nil, errors.Wrap(err, "parse config file")
		}
		// command-line flags win over the file
		if err = fs.Parse(args); err != nil {
			return nil, err
		}
	}

	if participants != "" {
		conf.Participants = split(participants)
	}
	if whitelist != "" {
		conf.Whitelist = split(whitelist)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Role != string(dto.RoleCoordinator) && c.Role != string(dto.RoleParticipant) {
		return errors.Errorf("unknown role %q", c.Role)
	}
	if c.Transport != TransportGRPC && c.Transport != TransportZMQ {
		return errors.Errorf("unknown transport %q", c.Transport)
	}
	if c.ID == 0 {
		return errors.New("id must be set")
	}
	if c.Timeout == 0 {
		return errors.New("timeout must be positive")
	}
	for name, p := range map[string]float64{"crash": c.CrashProbability, "workfailure": c.WorkFailureProbability} {
		if p < 0 || p > 1 {
			return errors.Errorf("%s probability %v is out of [0, 1]", name, p)
		}
	}

	roster, err := c.Roster()
	if err != nil {
		return err
	}
	self, ok := roster.Lookup(dto.ID(c.ID))
	if !ok {
		return errors.Errorf("id %d is not in the roster", c.ID)
	}
	if string(self.Role) != c.Role {
		return errors.Errorf("id %d is listed as %s, not %s", c.ID, self.Role, c.Role)
	}

	return nil
}

// Roster builds the static group membership.
func (c *Config) Roster() (group.Roster, error) {
	if c.Coordinator == "" {
		return nil, errors.New("coordinator is not set")
	}

	coordinator, err := group.ParseMember(dto.RoleCoordinator, c.Coordinator)
	if err != nil {
		return nil, err
	}

	roster := group.Roster{coordinator}
	for _, p := range c.Participants {
		m, err := group.ParseMember(dto.RoleParticipant, p)
		if err != nil {
			return nil, err
		}
		roster = append(roster, m)
	}

	if err = roster.Validate(); err != nil {
		return nil, err
	}
	return roster, nil
}

// ListenAddr returns the address this process serves on.
func (c *Config) ListenAddr() string {
	if c.Nodeaddr != "" {
		return c.Nodeaddr
	}
	roster, err := c.Roster()
	if err != nil {
		return ""
	}
	self, _ := roster.Lookup(dto.ID(c.ID))
	return self.Addr
}

func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

func split(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
