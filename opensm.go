package pcocc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

// guidChunkSize caps how many member GUIDs one partition line carries;
// opensm rejects overlong lines
const guidChunkSize = 128

// SubnetManager rewrites the opensm partition configuration from the pkey
// entries published in the kv store and nudges the daemon to reload it
type SubnetManager struct {
	Daemon       string
	PartitionCfg string
	PartitionTpl string
}

// NewSubnetManager builds a SubnetManager from a network's infiniband
// settings
func NewSubnetManager(settings *InfinibandSettings) *SubnetManager {
	return &SubnetManager{
		Daemon:       settings.OpenSMDaemon,
		PartitionCfg: settings.OpenSMPartitionCfg,
		PartitionTpl: settings.OpenSMPartitionTpl,
	}
}

// RenderPartitions produces the partition lines for a set of published
// entries. Each partition lists its virtual function members on indx0 lines
// and its host members on plain lines, chunked so no line exceeds what
// opensm accepts.
func RenderPartitions(entries map[uint16]*PKeyEntry) string {
	pkeys := make([]uint16, 0, len(entries))
	for pkey := range entries {
		pkeys = append(pkeys, pkey)
	}
	sort.Slice(pkeys, func(i, j int) bool { return pkeys[i] < pkeys[j] })

	var b strings.Builder
	for _, pkey := range pkeys {
		entry := entries[pkey]
		partline := fmt.Sprintf("PK_%s=%s , ipoib", FormatPKey(pkey), FormatPKey(pkey))

		for _, chunk := range chunkGUIDs(entry.VFGUIDs, guidChunkSize) {
			b.WriteString(partline)
			b.WriteString(", indx0 : ")
			b.WriteString(joinMembers(chunk))
			b.WriteString(" ; \n")
		}
		for _, chunk := range chunkGUIDs(entry.HostGUIDs, guidChunkSize) {
			b.WriteString(partline)
			b.WriteString(": ")
			b.WriteString(joinMembers(chunk))
			b.WriteString(" ; \n")
		}
	}
	return b.String()
}

// WriteConfig atomically replaces the partition configuration with the
// static template followed by the rendered partitions. The file is staged
// in the target directory and renamed into place so opensm never reads a
// half-written config.
func (m *SubnetManager) WriteConfig(entries map[uint16]*PKeyEntry) error {
	tpl, err := os.ReadFile(m.PartitionTpl)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.PartitionCfg), ".partitions-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(tpl); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.WriteString("\n" + RenderPartitions(entries)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), m.PartitionCfg)
}

// SignalDaemon sends SIGHUP to every running process matching the
// configured daemon name so opensm re-reads its partition file
func (m *SubnetManager) SignalDaemon() error {
	procs, err := process.Processes()
	if err != nil {
		return err
	}
	for _, proc := range procs {
		name, err := proc.Name()
		if err != nil || name != m.Daemon {
			continue
		}
		if err := proc.SendSignal(syscall.SIGHUP); err != nil {
			log.WithFields(log.Fields{
				"pid":   proc.Pid,
				"error": err,
			}).Warning("could not signal subnet manager")
		}
	}
	return nil
}

// FetchPKeyEntries loads every published pkey entry from the kv store.
// Records with a malformed key or body are skipped with a warning so one
// corrupt entry cannot take down the whole partition config.
func FetchPKeyEntries(ctx *Context) (map[uint16]*PKeyEntry, error) {
	values, err := ctx.KV().GetAll(OpenSMPKeyPath)
	if err != nil {
		if ctx.IsKeyNotFound(err) {
			return map[uint16]*PKeyEntry{}, nil
		}
		return nil, err
	}

	entries := make(map[uint16]*PKeyEntry, len(values))
	for key, value := range values {
		name := filepath.Base(key)
		if len(name) != 6 || !strings.HasPrefix(name, "0x") {
			log.WithField("key", key).Warning("invalid entry in pkey directory")
			continue
		}
		pkey, err := strconv.ParseUint(name[2:], 16, 16)
		if err != nil {
			log.WithField("key", key).Warning("invalid entry in pkey directory")
			continue
		}

		entry := &PKeyEntry{}
		if err := json.Unmarshal(value.Data, entry); err != nil {
			log.WithFields(log.Fields{
				"pkey":  name,
				"error": err,
			}).Warning("misconfigured pkey")
			continue
		}
		if err := entry.Validate(); err != nil {
			log.WithFields(log.Fields{
				"pkey":  name,
				"error": err,
			}).Warning("misconfigured pkey")
			continue
		}
		entries[uint16(pkey)] = entry
	}
	return entries, nil
}

func chunkGUIDs(guids []string, n int) [][]string {
	var chunks [][]string
	for len(guids) > n {
		chunks = append(chunks, guids[:n])
		guids = guids[n:]
	}
	if len(guids) > 0 {
		chunks = append(chunks, guids)
	}
	return chunks
}

func joinMembers(guids []string) string {
	members := make([]string, len(guids))
	for i, g := range guids {
		members[i] = g + "=full"
	}
	return strings.Join(members, ", ")
}
