package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nainya/persistit/pkg/btree"
	"github.com/nainya/persistit/pkg/journal"
	"github.com/nainya/persistit/pkg/page"
)

// Config configures one Engine instance. It is built from a flat
// property map (datapath, volume.N.*, buffer.count.<pageSize>,
// journalpath, ...), the same property-file shape the system this
// engine follows uses for its own configuration, rather than a nested
// struct a user would have to know the Go layout of.
type Config struct {
	DataPath    string
	JournalPath string

	Volumes []VolumeSpec

	// BufferCounts maps a page size to how many frames of that size
	// the shared buffer pool should carry.
	BufferCounts map[int]int

	CheckpointInterval time.Duration
	GroupCommitInterval time.Duration
	Durability          journal.Durability

	LogLevel  string
	LogPretty bool
	// LogFile, if set, directs engine logging to this path instead of
	// stderr.
	LogFile string

	// AppendOnly disables the journal's copier (archive mode): journal
	// records accumulate but are never applied back into volume pages,
	// so the journal itself becomes the durable append-only record.
	AppendOnly bool
}

// VolumeSpec describes one volume the engine should open or create.
type VolumeSpec struct {
	Name       string
	Path       string
	PageSize   int
	SplitPolicy btree.SplitPolicy

	// Create allows the volume to be created if Path doesn't yet exist.
	// ParseConfig defaults it to true; the zero value of a VolumeSpec
	// built directly is false, which requires the volume already exist.
	Create bool
	// CreateOnly fails VolumeAlreadyExists if Path already holds a
	// volume rather than opening it.
	CreateOnly bool
	// ReadOnly opens the volume without permitting any mutation;
	// writes against it fail ReadOnlyVolume.
	ReadOnly bool

	// InitialPages preallocates this many pages of backing file space
	// at creation, so early growth doesn't pay for file extension.
	InitialPages uint64
	// ExtensionPages, if set, overrides the volume's default file-growth
	// increment (in pages) used each time it must extend past its
	// current preallocated size.
	ExtensionPages uint64
	// MaximumPages caps the volume's total page count; allocation past
	// it fails VolumeFull. 0 means unbounded.
	MaximumPages uint64

	// Temporary places the volume's backing file under TmpVolDir with a
	// generated name instead of Path, for scratch volumes that don't
	// need to survive process restart.
	Temporary bool
	// TmpVolDir is the directory Temporary volumes are created under.
	TmpVolDir string

	// AppendOnly, when true on any configured volume, puts the whole
	// engine's journal copier into archive mode (see Config.AppendOnly).
	AppendOnly bool

	// ExpectedVolumeID, if non-empty, must match the 128-bit id stamped
	// into an existing volume's head page or Open fails WrongVolume —
	// a guard against silently pointing a spec at the wrong file after
	// e.g. a restore from backup. Hex-encoded, 32 characters.
	ExpectedVolumeID string
}

// DefaultConfig returns a Config with no volumes configured (Open
// rejects it until at least one VolumeSpec is added), 4096 buffers of
// 16KB pages, hard commit durability, and the journal package's default
// checkpoint and group-commit intervals.
func DefaultConfig() *Config {
	return &Config{
		BufferCounts:        map[int]int{page.DefaultPageSize: 4096},
		CheckpointInterval:  journal.DefaultCheckpointInterval,
		GroupCommitInterval: journal.DefaultGroupCommitInterval,
		Durability:          journal.DurabilityHard,
		LogLevel:            "info",
	}
}

// ParseConfig builds a Config from a flat property map, the format a
// user loads from a properties file or passes directly. Keys follow a
// volume.<name>.path / volume.<name>.pagesize / volume.<name>.split
// convention; unrecognized keys are a config error rather than being
// silently ignored, since a typo'd key silently falling back to a
// default is exactly the kind of surprise an embeddable engine's
// config layer should not produce.
func ParseConfig(props map[string]string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.BufferCounts = map[int]int{}
	volumes := map[string]*VolumeSpec{}

	for key, val := range props {
		switch {
		case key == "datapath":
			cfg.DataPath = val
		case key == "journalpath":
			cfg.JournalPath = val
		case key == "log.level":
			cfg.LogLevel = val
		case key == "log.pretty":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return nil, Config(fmt.Sprintf("log.pretty: %v", err))
			}
			cfg.LogPretty = b
		case key == "logfile":
			cfg.LogFile = val
		case key == "appendonly":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return nil, Config(fmt.Sprintf("appendonly: %v", err))
			}
			cfg.AppendOnly = b
		case key == "checkpoint.interval":
			d, err := time.ParseDuration(val)
			if err != nil {
				return nil, Config(fmt.Sprintf("checkpoint.interval: %v", err))
			}
			cfg.CheckpointInterval = d
		case key == "commit.durability":
			switch val {
			case "soft":
				cfg.Durability = journal.DurabilitySoft
			case "hard":
				cfg.Durability = journal.DurabilityHard
			default:
				return nil, Config(fmt.Sprintf("commit.durability: unknown value %q", val))
			}
		case strings.HasPrefix(key, "buffer.count."):
			sizeStr := strings.TrimPrefix(key, "buffer.count.")
			size, err := strconv.Atoi(sizeStr)
			if err != nil || !page.ValidPageSize(size) {
				return nil, Config(fmt.Sprintf("buffer.count.%s: invalid page size", sizeStr))
			}
			count, err := strconv.Atoi(val)
			if err != nil || count < 1 {
				return nil, Config(fmt.Sprintf("buffer.count.%s: invalid count %q", sizeStr, val))
			}
			cfg.BufferCounts[size] = count
		case strings.HasPrefix(key, "volume."):
			rest := strings.TrimPrefix(key, "volume.")
			parts := strings.SplitN(rest, ".", 2)
			if len(parts) != 2 {
				return nil, Config(fmt.Sprintf("volume key %q missing field", key))
			}
			name, field := parts[0], parts[1]
			v, ok := volumes[name]
			if !ok {
				v = &VolumeSpec{Name: name, PageSize: page.DefaultPageSize, Create: true}
				volumes[name] = v
			}
			switch field {
			case "path":
				v.Path = val
			case "pagesize":
				size, err := strconv.Atoi(val)
				if err != nil || !page.ValidPageSize(size) {
					return nil, Config(fmt.Sprintf("volume.%s.pagesize: invalid page size %q", name, val))
				}
				v.PageSize = size
			case "split":
				switch val {
				case "nice":
					v.SplitPolicy = btree.SplitNICE
				case "left_bias":
					v.SplitPolicy = btree.SplitLeftBias
				case "right_bias":
					v.SplitPolicy = btree.SplitRightBias
				case "pack_bias":
					v.SplitPolicy = btree.SplitPackBias
				default:
					return nil, Config(fmt.Sprintf("volume.%s.split: unknown policy %q", name, val))
				}
			case "create":
				b, err := strconv.ParseBool(val)
				if err != nil {
					return nil, Config(fmt.Sprintf("volume.%s.create: %v", name, err))
				}
				v.Create = b
			case "createOnly":
				b, err := strconv.ParseBool(val)
				if err != nil {
					return nil, Config(fmt.Sprintf("volume.%s.createOnly: %v", name, err))
				}
				v.CreateOnly = b
			case "readOnly":
				b, err := strconv.ParseBool(val)
				if err != nil {
					return nil, Config(fmt.Sprintf("volume.%s.readOnly: %v", name, err))
				}
				v.ReadOnly = b
			case "appendonly":
				b, err := strconv.ParseBool(val)
				if err != nil {
					return nil, Config(fmt.Sprintf("volume.%s.appendonly: %v", name, err))
				}
				v.AppendOnly = b
			case "initialPages":
				n, err := strconv.ParseUint(val, 10, 64)
				if err != nil {
					return nil, Config(fmt.Sprintf("volume.%s.initialPages: %v", name, err))
				}
				v.InitialPages = n
			case "extensionPages":
				n, err := strconv.ParseUint(val, 10, 64)
				if err != nil {
					return nil, Config(fmt.Sprintf("volume.%s.extensionPages: %v", name, err))
				}
				v.ExtensionPages = n
			case "maximumPages":
				n, err := strconv.ParseUint(val, 10, 64)
				if err != nil {
					return nil, Config(fmt.Sprintf("volume.%s.maximumPages: %v", name, err))
				}
				v.MaximumPages = n
			case "tmpvoldir":
				v.Temporary = true
				v.TmpVolDir = val
			case "expectedVolumeId":
				v.ExpectedVolumeID = val
			default:
				return nil, Config(fmt.Sprintf("unknown volume field %q", key))
			}
		default:
			return nil, Config(fmt.Sprintf("unrecognized config key %q", key))
		}
	}

	if len(cfg.BufferCounts) == 0 {
		cfg.BufferCounts[page.DefaultPageSize] = 4096
	}
	for _, v := range volumes {
		if v.Path == "" && !v.Temporary {
			return nil, Config(fmt.Sprintf("volume %q missing path", v.Name))
		}
		if v.CreateOnly && v.ReadOnly {
			return nil, Config(fmt.Sprintf("volume %q: createOnly and readOnly are contradictory", v.Name))
		}
		cfg.Volumes = append(cfg.Volumes, *v)
	}

	return cfg, nil
}
