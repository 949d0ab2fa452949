package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"

	"github.com/indexfs/indexfs/common/kvstore"
	apierrors "github.com/indexfs/indexfs/errors"
	"github.com/indexfs/indexfs/giga"
	"github.com/indexfs/indexfs/proto"
)

const (
	// inodeStep spaces allocations so ids handed out by different
	// servers never collide.
	inodeStep = 1 << 9

	// inodeRecoverySkip is applied when reopening an existing store:
	// instead of replaying the counter, restart past anything a previous
	// incarnation could plausibly have handed out.
	inodeRecoverySkip = 10000 * inodeStep

	// maxSstSize rotates extraction output tables.
	maxSstSize = 32 << 20
)

type Config struct {
	Path     string         `json:"path"`
	SplitDir string         `json:"split_dir"`
	KVOption kvstore.Option `json:"kv_option"`

	ServerID uint32 `json:"-"`
	// DirBulkSize is the default batch size for bulk inode reservation.
	DirBulkSize int `json:"-"`
}

// MetaDB is the per-server metadata table: an ordered KV of directory
// entries plus the bulk extract/ingest path used by partition splits.
type MetaDB struct {
	kv          kvstore.Store
	splitDir    string
	serverID    uint32
	dirBulkSize int

	inodeMu   sync.Mutex
	inodeNext uint64

	// extractMu serializes SST extraction process-wide so concurrent
	// splits of different directories never interleave table builders.
	extractMu sync.Mutex
	staging   string
}

func NewMetaDB(ctx context.Context, cfg *Config) (*MetaDB, error) {
	if cfg.SplitDir == "" {
		cfg.SplitDir = filepath.Join(cfg.Path, "split")
	}
	cfg.KVOption.CreateIfMissing = true

	_, statErr := os.Stat(filepath.Join(cfg.Path, "kv", "CURRENT"))
	existing := statErr == nil

	kv, err := kvstore.NewKVStore(ctx, filepath.Join(cfg.Path, "kv"), kvstore.RocksdbLsmKVType, &cfg.KVOption)
	if err != nil {
		return nil, errors.Info(err, "open kv store failed", cfg.Path)
	}
	if err := os.MkdirAll(cfg.SplitDir, 0o755); err != nil {
		kv.Close()
		return nil, err
	}

	mdb := &MetaDB{
		kv:          kv,
		splitDir:    cfg.SplitDir,
		serverID:    cfg.ServerID,
		dirBulkSize: cfg.DirBulkSize,
		inodeNext:   uint64(cfg.ServerID),
	}
	if existing {
		mdb.inodeNext += inodeRecoverySkip
	}
	return mdb, nil
}

func (m *MetaDB) Close() {
	m.kv.Close()
}

// NewInodeNumber allocates one inode id, stepped to avoid cross-server
// collisions.
func (m *MetaDB) NewInodeNumber() uint64 {
	m.inodeMu.Lock()
	m.inodeNext += inodeStep
	id := m.inodeNext
	m.inodeMu.Unlock()
	return id
}

// NewInodeBatch reserves bulk ids and returns the first of the batch. A
// non-positive bulk falls back to the configured DirBulkSize, then to 1.
func (m *MetaDB) NewInodeBatch(bulk int) uint64 {
	if bulk <= 0 {
		bulk = m.dirBulkSize
	}
	if bulk <= 0 {
		bulk = 1
	}
	m.inodeMu.Lock()
	first := m.inodeNext + inodeStep
	m.inodeNext += inodeStep * uint64(bulk)
	m.inodeMu.Unlock()
	return first
}

func (m *MetaDB) getValue(ctx context.Context, key []byte) (*entryValue, error) {
	raw, err := m.kv.Get(ctx, key)
	if err != nil {
		if err == kvstore.ErrNotFound {
			return nil, apierrors.ErrFileNotFound
		}
		return nil, errors.Info(err, "kv get failed")
	}
	return decodeEntryValue(raw)
}

// Getattr looks up one entry of a directory partition.
func (m *MetaDB) Getattr(ctx context.Context, dirIno uint64, partition int64, name string) (proto.StatInfo, error) {
	v, err := m.getValue(ctx, encodeNameKey(dirIno, partition, name))
	if err != nil {
		return proto.StatInfo{}, err
	}
	return v.stat, nil
}

// Create inserts a regular file entry; existing names are preserved.
func (m *MetaDB) Create(ctx context.Context, dirIno uint64, partition int64, name string, perm uint32, realpath string) error {
	key := encodeNameKey(dirIno, partition, name)
	if _, err := m.kv.Get(ctx, key); err != kvstore.ErrNotFound {
		if err != nil {
			return errors.Info(err, "kv get failed")
		}
		return apierrors.ErrFileAlreadyExist
	}

	now := time.Now().Unix()
	state := proto.FileInDB
	if realpath != "" {
		state = proto.FileInFS
	}
	v := &entryValue{
		stat: proto.StatInfo{
			Mode:  modeReg | (perm & 0o7777),
			Mtime: now,
			Ctime: now,
		},
		nlink:    1,
		state:    state,
		objname:  name,
		realpath: realpath,
	}
	return m.kv.Put(ctx, key, v.encode())
}

// Mkdir inserts a directory entry into its parent. The zeroth row of the
// new directory is written separately, possibly on another server.
func (m *MetaDB) Mkdir(ctx context.Context, dirIno uint64, partition int64, name string, ino uint64, perm uint32, zerothServer uint32) error {
	key := encodeNameKey(dirIno, partition, name)
	if _, err := m.kv.Get(ctx, key); err != kvstore.ErrNotFound {
		if err != nil {
			return errors.Info(err, "kv get failed")
		}
		return apierrors.ErrFileAlreadyExist
	}

	now := time.Now().Unix()
	v := &entryValue{
		stat: proto.StatInfo{
			Mode:         modeDir | (perm & 0o7777),
			Size:         4096,
			Mtime:        now,
			Ctime:        now,
			Id:           ino,
			ZerothServer: zerothServer,
		},
		nlink:   2,
		state:   proto.FileInDB,
		objname: name,
	}
	return m.kv.Put(ctx, key, v.encode())
}

// CreateEntry inserts an entry with caller-provided attributes, optionally
// carrying a backing path or embedded data. Rename and bulk loading use it.
func (m *MetaDB) CreateEntry(ctx context.Context, dirIno uint64, partition int64, name string, info proto.StatInfo, realpath string, data []byte) error {
	key := encodeNameKey(dirIno, partition, name)
	if _, err := m.kv.Get(ctx, key); err != kvstore.ErrNotFound {
		if err != nil {
			return errors.Info(err, "kv get failed")
		}
		return apierrors.ErrFileAlreadyExist
	}

	state := proto.FileInDB
	if realpath != "" {
		state = proto.FileInFS
	}
	nlink := uint32(1)
	if isDirMode(info.Mode) {
		nlink = 2
	}
	v := &entryValue{
		stat:     info,
		nlink:    nlink,
		state:    state,
		objname:  name,
		realpath: realpath,
		payload:  data,
	}
	return m.kv.Put(ctx, key, v.encode())
}

// Setattr replaces the stat header, keeping body placement untouched.
func (m *MetaDB) Setattr(ctx context.Context, dirIno uint64, partition int64, name string, info proto.StatInfo) error {
	key := encodeNameKey(dirIno, partition, name)
	v, err := m.getValue(ctx, key)
	if err != nil {
		return err
	}
	v.stat = info
	return m.kv.Put(ctx, key, v.encode())
}

// Chmod updates the permission bits, preserving the format bits.
func (m *MetaDB) Chmod(ctx context.Context, dirIno uint64, partition int64, name string, perm uint32) error {
	key := encodeNameKey(dirIno, partition, name)
	v, err := m.getValue(ctx, key)
	if err != nil {
		return err
	}
	v.stat.Mode = (v.stat.Mode &^ 0o7777) | (perm & 0o7777)
	v.stat.Ctime = time.Now().Unix()
	return m.kv.Put(ctx, key, v.encode())
}

// Remove deletes one entry. Deleting an absent entry reports FileNotFound
// so the caller can distinguish a raced removal.
func (m *MetaDB) Remove(ctx context.Context, dirIno uint64, partition int64, name string) error {
	key := encodeNameKey(dirIno, partition, name)
	if _, err := m.getValue(ctx, key); err != nil {
		return err
	}
	return m.kv.Delete(ctx, key)
}

// Readdir scans one partition, returning at most limit names. more reports
// that the limit stopped iteration; endHash is the resume point to pass as
// the next startHash.
func (m *MetaDB) Readdir(ctx context.Context, dirIno uint64, partition int64, startHash []byte, limit int) (names []string, endHash []byte, more bool, err error) {
	err = m.scanPartition(ctx, dirIno, partition, startHash, limit, func(hash []byte, v *entryValue, full bool) bool {
		if full {
			endHash = append([]byte(nil), hash...)
			more = true
			return false
		}
		names = append(names, v.objname)
		return true
	})
	return
}

// ReaddirPlus is Readdir with the stat of every entry.
func (m *MetaDB) ReaddirPlus(ctx context.Context, dirIno uint64, partition int64, startHash []byte, limit int) (names []string, infos []proto.StatInfo, endHash []byte, more bool, err error) {
	err = m.scanPartition(ctx, dirIno, partition, startHash, limit, func(hash []byte, v *entryValue, full bool) bool {
		if full {
			endHash = append([]byte(nil), hash...)
			more = true
			return false
		}
		names = append(names, v.objname)
		infos = append(infos, v.stat)
		return true
	})
	return
}

func (m *MetaDB) scanPartition(ctx context.Context, dirIno uint64, partition int64, startHash []byte, limit int, fn func(hash []byte, v *entryValue, full bool) bool) error {
	if partition < 0 {
		partition = 0
	}
	seek := make([]byte, KeyLen)
	encodePrefix(seek, dirIno, partition)
	copy(seek[prefixLen:], startHash)

	it := m.kv.NewIterator(ctx)
	defer it.Close()

	count := 0
	for it.Seek(seek); it.Valid(); it.Next() {
		key := it.Key()
		if !samePartition(key, dirIno, partition) {
			break
		}
		v, err := decodeEntryValue(it.Value())
		if err != nil {
			return err
		}
		if !fn(key[prefixLen:], v, count >= limit) {
			return nil
		}
		count++
	}
	return it.Err()
}

// ReadBitmap loads the mapping from the directory's zeroth-partition row.
func (m *MetaDB) ReadBitmap(ctx context.Context, dirIno uint64) (*giga.Mapping, error) {
	v, err := m.getValue(ctx, encodeKey(dirIno, proto.ZerothPartition, make([]byte, giga.HashLen)))
	if err != nil {
		return nil, err
	}
	mapping, ok := giga.Deserialize(v.payload)
	if !ok {
		return nil, apierrors.ErrIOError
	}
	return mapping, nil
}

// CreateBitmap writes a fresh zeroth row; an existing row is an error so
// racing mkdir calls resolve to exactly one winner.
func (m *MetaDB) CreateBitmap(ctx context.Context, dirIno uint64, mapping *giga.Mapping) error {
	key := encodeKey(dirIno, proto.ZerothPartition, make([]byte, giga.HashLen))
	if _, err := m.kv.Get(ctx, key); err != kvstore.ErrNotFound {
		if err != nil {
			return errors.Info(err, "kv get failed")
		}
		return apierrors.ErrFileAlreadyExist
	}
	return m.putBitmap(ctx, key, dirIno, mapping)
}

// UpdateBitmap persists the current mapping, creating the row if needed.
func (m *MetaDB) UpdateBitmap(ctx context.Context, dirIno uint64, mapping *giga.Mapping) error {
	key := encodeKey(dirIno, proto.ZerothPartition, make([]byte, giga.HashLen))
	return m.putBitmap(ctx, key, dirIno, mapping)
}

func (m *MetaDB) putBitmap(ctx context.Context, key []byte, dirIno uint64, mapping *giga.Mapping) error {
	now := time.Now().Unix()
	v := &entryValue{
		stat: proto.StatInfo{
			Mode:         modeDir | 0o755,
			Size:         4096,
			Mtime:        now,
			Ctime:        now,
			Id:           dirIno,
			ZerothServer: mapping.ZerothServer,
		},
		nlink:   2,
		state:   proto.FileInDB,
		payload: mapping.Serialize(),
	}
	return m.kv.Put(ctx, key, v.encode())
}

// OpenFile returns the body placement of a file entry: the embedded bytes
// when the body lives in the row, otherwise the backing path.
func (m *MetaDB) OpenFile(ctx context.Context, dirIno uint64, partition int64, name string) (isEmbedded bool, data []byte, realpath string, err error) {
	v, err := m.getValue(ctx, encodeNameKey(dirIno, partition, name))
	if err != nil {
		return false, nil, "", err
	}
	return v.state == proto.FileInDB, v.payload, v.realpath, nil
}

// WriteFile updates the embedded body of an entry in place.
func (m *MetaDB) WriteFile(ctx context.Context, dirIno uint64, partition int64, name string, data []byte, offset int64) error {
	key := encodeNameKey(dirIno, partition, name)
	v, err := m.getValue(ctx, key)
	if err != nil {
		return err
	}
	if v.state != proto.FileInDB {
		return apierrors.ErrIOError
	}
	end := int(offset) + len(data)
	if end > len(v.payload) {
		grown := make([]byte, end)
		copy(grown, v.payload)
		v.payload = grown
	}
	copy(v.payload[offset:], data)
	v.stat.Size = int64(len(v.payload))
	v.stat.Mtime = time.Now().Unix()
	return m.kv.Put(ctx, key, v.encode())
}

// WriteLink migrates an entry's body out of the row: the embedded data is
// dropped and the entry now points at the backing object.
func (m *MetaDB) WriteLink(ctx context.Context, dirIno uint64, partition int64, name string, realpath string) error {
	key := encodeNameKey(dirIno, partition, name)
	v, err := m.getValue(ctx, key)
	if err != nil {
		return err
	}
	v.state = proto.FileInFS
	v.realpath = realpath
	v.payload = nil
	v.stat.Mtime = time.Now().Unix()
	return m.kv.Put(ctx, key, v.encode())
}

// Extract moves every row of (dirIno, oldPartition) that addresses into
// newPartition out of the live store and into standalone sorted tables
// under outDir, with the keys rewritten to the child partition. The rows
// are deleted only after all tables are durable, so a failed extraction
// leaves the partition untouched.
func (m *MetaDB) Extract(ctx context.Context, dirIno uint64, oldPartition, newPartition int64, outDir string) (n int64, minSeq, maxSeq uint64, err error) {
	span := trace.SpanFromContextSafe(ctx)

	m.extractMu.Lock()
	defer m.extractMu.Unlock()
	m.staging = outDir

	if err = os.MkdirAll(outDir, 0o755); err != nil {
		return 0, 0, 0, errors.Info(err, "create staging dir failed", outDir)
	}

	var (
		writer   kvstore.SstWriter
		sstBytes int
		sstSeq   int
		sstFiles []string
	)
	newWriter := func() error {
		name := filepath.Join(outDir, fmt.Sprintf("p%d-%08x.sst", newPartition, sstSeq))
		w, werr := m.kv.NewSstWriter(name)
		if werr != nil {
			return werr
		}
		writer, sstBytes = w, 0
		sstSeq++
		sstFiles = append(sstFiles, name)
		return nil
	}
	if err = newWriter(); err != nil {
		return 0, 0, 0, err
	}
	defer func() {
		if writer != nil {
			writer.Close()
		}
	}()

	batch := m.kv.NewWriteBatch()
	defer batch.Close()

	seek := make([]byte, KeyLen)
	encodePrefix(seek, dirIno, oldPartition)
	it := m.kv.NewIterator(ctx)
	defer it.Close()

	for it.Seek(seek); it.Valid(); it.Next() {
		key := it.Key()
		if !samePartition(key, dirIno, oldPartition) {
			break
		}
		_, _, hash := decodeKey(key)
		if !giga.MigratesTo(hash, int(newPartition)) {
			continue
		}
		value := it.Value()
		if err = writer.Add(rewritePartition(key, newPartition), value); err != nil {
			return 0, 0, 0, errors.Info(err, "sst add failed")
		}
		batch.Delete(key)
		n++
		sstBytes += len(key) + len(value)

		if sstBytes >= maxSstSize {
			if err = writer.Finish(); err != nil {
				return 0, 0, 0, errors.Info(err, "sst finish failed")
			}
			writer.Close()
			writer = nil
			if err = newWriter(); err != nil {
				return 0, 0, 0, err
			}
		}
	}
	if err = it.Err(); err != nil {
		return 0, 0, 0, errors.Info(err, "partition scan failed")
	}

	if n == 0 {
		writer.Close()
		writer = nil
		_ = os.RemoveAll(outDir)
		return 0, 0, 0, nil
	}

	if sstBytes > 0 {
		if err = writer.Finish(); err != nil {
			return 0, 0, 0, errors.Info(err, "sst finish failed")
		}
	} else {
		// the last rotation left an empty table behind
		writer.Close()
		writer = nil
		last := sstFiles[len(sstFiles)-1]
		_ = os.Remove(last)
	}

	// The deletes commit only after every output table is durable. A
	// failure here means the backing store itself is broken; continuing
	// would duplicate the partition, so give up loudly.
	if err = m.kv.Write(ctx, batch); err != nil {
		log.Fatalf("delete of extracted rows failed, store is corrupt: %s", errors.Detail(err))
	}

	span.Infof("extracted %d rows of dir %d: p%d -> p%d (%d tables)", n, dirIno, oldPartition, newPartition, len(sstFiles))
	return n, 0, uint64(n), nil
}

// ExtractClean removes the staging directory left by the last extraction.
func (m *MetaDB) ExtractClean() error {
	m.extractMu.Lock()
	staging := m.staging
	m.staging = ""
	m.extractMu.Unlock()
	if staging == "" {
		return nil
	}
	return os.RemoveAll(staging)
}

// BulkInsert ingests the sorted tables produced by Extract as fresh level-0
// files of the live store.
func (m *MetaDB) BulkInsert(ctx context.Context, dir string, minSeq, maxSeq uint64) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Info(err, "read staging dir failed", dir)
	}
	var ssts []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sst") {
			ssts = append(ssts, filepath.Join(dir, e.Name()))
		}
	}
	if len(ssts) == 0 {
		return nil
	}
	sort.Strings(ssts)
	return m.kv.IngestSst(ctx, ssts)
}

// SplitDir is the staging area for extraction output.
func (m *MetaDB) SplitDir() string {
	return m.splitDir
}

// Stats exposes backing-store usage for monitoring.
func (m *MetaDB) Stats(ctx context.Context) (kvstore.Stats, error) {
	return m.kv.Stats(ctx)
}
