package gateway

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/syndicate-storage/syndicate-sub005/driver"
	"github.com/syndicate-storage/syndicate-sub005/errs"
	"github.com/syndicate-storage/syndicate-sub005/gwctx"
	"github.com/syndicate-storage/syndicate-sub005/inode"
	"github.com/syndicate-storage/syndicate-sub005/manifest"
	"github.com/syndicate-storage/syndicate-sub005/msclient"
	"github.com/syndicate-storage/syndicate-sub005/wire"
)

// StanzaCmd is the crawler's per-path instruction (spec §6 "AG crawler
// stanza"): Create, Update, Delete, or Finish (no more work this pass).
type StanzaCmd byte

const (
	StanzaCreate StanzaCmd = 'C'
	StanzaUpdate StanzaCmd = 'U'
	StanzaDelete StanzaCmd = 'D'
	StanzaFinish StanzaCmd = 'F'
)

// Stanza is one parsed crawler instruction.
type Stanza struct {
	Cmd  StanzaCmd
	Dir  bool
	Mode uint32
	Size int64
	Path string
}

// ParseStanza reads one four-line stanza from r (spec §6). A stanza
// missing its NUL terminator triggers resync: ParseStanza consumes lines
// until it finds the literal terminator and returns an errs.ProtocolMismatch
// error; the caller should call ParseStanza again to pick up the next one.
func ParseStanza(r *bufio.Reader) (*Stanza, error) {
	cmdLine, err := readStanzaLine(r)
	if err != nil {
		return nil, err
	}
	if len(cmdLine) == 0 {
		return nil, errs.New("gateway.ParseStanza", errs.ProtocolMismatch, fmt.Errorf("empty command line"))
	}

	typeLine, err := readStanzaLine(r)
	if err != nil {
		return nil, err
	}
	pathLine, err := readStanzaLine(r)
	if err != nil {
		return nil, err
	}
	term, err := readStanzaLine(r)
	if err != nil {
		return nil, err
	}
	if term != "\x00" {
		return nil, resyncStanza(r)
	}

	cmd := StanzaCmd(cmdLine[0])
	if cmd == StanzaFinish {
		return &Stanza{Cmd: StanzaFinish}, nil
	}

	fields := strings.Fields(typeLine)
	if len(fields) != 3 {
		return nil, errs.New("gateway.ParseStanza", errs.ProtocolMismatch, fmt.Errorf("malformed type line %q", typeLine))
	}
	mode, err := strconv.ParseUint(fields[1], 8, 32)
	if err != nil {
		return nil, errs.New("gateway.ParseStanza", errs.ProtocolMismatch, fmt.Errorf("bad mode %q: %w", fields[1], err))
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, errs.New("gateway.ParseStanza", errs.ProtocolMismatch, fmt.Errorf("bad size %q: %w", fields[2], err))
	}

	return &Stanza{
		Cmd:  cmd,
		Dir:  fields[0] == "D",
		Mode: uint32(mode),
		Size: size,
		Path: pathLine,
	}, nil
}

func readStanzaLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", errs.New("gateway.ParseStanza", errs.IOError, err)
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// resyncStanza discards input until the terminator line is found, per §6's
// resync rule, then reports the discarded stanza as a protocol mismatch.
func resyncStanza(r *bufio.Reader) error {
	for {
		line, err := readStanzaLine(r)
		if err != nil {
			return err
		}
		if line == "\x00" {
			return errs.New("gateway.ParseStanza", errs.ProtocolMismatch, fmt.Errorf("stanza missing terminator, resynced"))
		}
	}
}

// Crawler drives the AG's periodic sweep of its crawl driver role,
// translating each stanza into a cached inode plus an MS publish (spec
// §4.9 "AG server ... applies it to the MS via the UG client path").
type Crawler struct {
	GC       *gwctx.Context
	Cache    *inode.Cache
	Driver   *driver.Pool
	MS       msclient.Client
	VolumeID uint64

	// BlockSize is used to synthesize the placeholder block-info entries
	// of a newly-crawled regular file (spec §8 S6).
	BlockSize int64
}

// NewCrawler builds a Crawler bound to the given collaborators.
func NewCrawler(gc *gwctx.Context, cache *inode.Cache, pool *driver.Pool, ms msclient.Client, volumeID uint64, blockSize int64) *Crawler {
	return &Crawler{GC: gc, Cache: cache, Driver: pool, MS: ms, VolumeID: volumeID, BlockSize: blockSize}
}

// Run polls the crawl driver role until ctx is done or the crawler
// receives a Finish stanza; callers typically loop Run in a goroutine
// that re-invokes it on a timer for repeated sweeps.
func (c *Crawler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.GC.Done():
			return nil
		default:
		}

		raw, err := c.Driver.Dispatch("crawl", &wire.RequestData{VolumeID: c.VolumeID}, nil)
		if err != nil {
			return err
		}
		st, err := ParseStanza(bufio.NewReader(bytes.NewReader(raw)))
		if err != nil {
			if errs.CodeOf(err) == errs.ProtocolMismatch {
				c.GC.Log.Warn("crawler stanza resync", "error", err)
				continue
			}
			return err
		}

		switch st.Cmd {
		case StanzaFinish:
			return nil
		case StanzaCreate, StanzaUpdate:
			if err := c.applyUpsert(ctx, st); err != nil {
				c.GC.Log.Error("crawler upsert failed", "path", st.Path, "error", err)
			}
		case StanzaDelete:
			if err := c.applyDelete(ctx, st); err != nil {
				c.GC.Log.Error("crawler delete failed", "path", st.Path, "error", err)
			}
		}
	}
}

func (c *Crawler) applyUpsert(ctx context.Context, st *Stanza) error {
	parentID, name, err := c.ensureParent(st.Path)
	if err != nil {
		return err
	}

	kind := inode.KindFile
	if st.Dir {
		kind = inode.KindDir
	}
	fileID := pathHash(st.Path)
	now := c.GC.Clock.Now()

	entry := inode.MdEntry{
		Kind:          kind,
		Name:          name,
		FileID:        fileID,
		Version:       1,
		Coordinator:   c.GC.Identity.GatewayID,
		Volume:        c.VolumeID,
		Mode:          st.Mode,
		Size:          st.Size,
		Ctime:         now,
		Mtime:         now,
		ManifestMtime: now,
		ParentID:      parentID,
	}
	if err := c.MS.Publish(ctx, c.VolumeID, entry); err != nil {
		return errs.New("gateway.Crawler.applyUpsert", errs.IOError, err)
	}

	in, existing := c.Cache.FindByFileID(fileID)
	if !existing {
		in = entry.ToInode()
		if err := c.Cache.Create(parentID, name, in); err != nil {
			return err
		}
	} else {
		in.Lock()
		in.Meta.Size = st.Size
		in.Meta.Mode = st.Mode
		in.Meta.Mtime = now
		in.Unlock()
	}

	if kind == inode.KindFile {
		in.Lock()
		in.Manifest = synthesizeManifest(c.VolumeID, c.GC.Identity.GatewayID, fileID, st.Size, c.BlockSize)
		in.Unlock()
	}
	return nil
}

func (c *Crawler) applyDelete(ctx context.Context, st *Stanza) error {
	parentID, name, err := c.ensureParent(st.Path)
	if err != nil {
		return err
	}
	return c.Cache.Detach(parentID, name)
}

// ensureParent walks path's directory components from the root, creating
// any cached directory inode that is missing (the crawler discovers paths
// in arbitrary order, so a child's directory may not be cached yet).
func (c *Crawler) ensureParent(path string) (parentID uint64, name string, err error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return 0, "", errs.New("gateway.Crawler.ensureParent", errs.InvalidArgument, fmt.Errorf("empty path"))
	}
	parentID = inode.RootID
	for i := 0; i < len(parts)-1; i++ {
		dirPath := "/" + strings.Join(parts[:i+1], "/")
		id, found := c.Cache.LookupChild(parentID, parts[i])
		if !found {
			dir := &inode.Inode{
				Kind: inode.KindDir,
				Meta: inode.Metadata{
					FileID:        pathHash(dirPath),
					CoordinatorID: c.GC.Identity.GatewayID,
					VolumeID:      c.VolumeID,
					Mode:          0755,
				},
			}
			if err := c.Cache.Create(parentID, parts[i], dir); err != nil && errs.CodeOf(err) != errs.AlreadyExists {
				return 0, "", err
			}
			id, _ = c.Cache.LookupChild(parentID, parts[i])
		}
		parentID = id
	}
	return parentID, parts[len(parts)-1], nil
}

// pathHash derives a stable file id from an absolute path: the AG has no
// MS-assigned id to hand back until the first successful publish, and
// must use the same id on every subsequent sweep of the same path.
func pathHash(path string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	return h.Sum64()
}

// synthesizeManifest builds the placeholder block map for a freshly
// crawled regular file (spec §8 S6: "ceil(size/block_size)+1 block-info
// entries with version=1 and no hash yet").
func synthesizeManifest(volumeID, coordinatorID, fileID uint64, size, blockSize int64) *manifest.Manifest {
	m := manifest.New(volumeID, coordinatorID, fileID, 1)
	m.Size = size
	count := int64(0)
	if blockSize > 0 {
		count = (size + blockSize - 1) / blockSize
	}
	for id := int64(0); id < count+1; id++ {
		_ = m.PutBlock(uint64(id), manifest.BlockInfo{Version: 1, ChunkRole: manifest.ChunkRoleEphemeral}, true)
	}
	return m
}
