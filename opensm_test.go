package pcocc_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/degremont/pcocc"
	"github.com/stretchr/testify/suite"
)

type OpenSMTestSuite struct {
	CommonTestSuite
}

func TestOpenSMTestSuite(t *testing.T) {
	suite.Run(t, new(OpenSMTestSuite))
}

func testGUID(pkey uint16, rank int) string {
	return fmt.Sprintf("0xc0cc%04x%08x", pkey, rank)
}

func (s *OpenSMTestSuite) TestRenderPartitions() {
	entries := map[uint16]*pcocc.PKeyEntry{
		0x2001: {
			VFGUIDs: []string{testGUID(0x2001, 0)},
		},
		0x2000: {
			VFGUIDs:   []string{testGUID(0x2000, 0), testGUID(0x2000, 1)},
			HostGUIDs: []string{"0x0002c90300a1b2c3"},
		},
	}

	rendered := pcocc.RenderPartitions(entries)
	expected := "PK_0x2000=0x2000 , ipoib, indx0 : " +
		"0xc0cc200000000000=full, 0xc0cc200000000001=full ; \n" +
		"PK_0x2000=0x2000 , ipoib: 0x0002c90300a1b2c3=full ; \n" +
		"PK_0x2001=0x2001 , ipoib, indx0 : 0xc0cc200100000000=full ; \n"
	s.Equal(expected, rendered)

	s.Empty(pcocc.RenderPartitions(nil))
}

func (s *OpenSMTestSuite) TestRenderPartitionsChunked() {
	guids := make([]string, 130)
	for i := range guids {
		guids[i] = testGUID(0x2000, i)
	}
	entries := map[uint16]*pcocc.PKeyEntry{
		0x2000: {VFGUIDs: guids},
	}

	rendered := pcocc.RenderPartitions(entries)
	lines := strings.Split(strings.TrimRight(rendered, "\n"), "\n")
	s.Require().Len(lines, 2, "members overflow onto a second line")
	s.Equal(128, strings.Count(lines[0], "=full"))
	s.Equal(2, strings.Count(lines[1], "=full"))
	for _, line := range lines {
		s.True(strings.HasPrefix(line, "PK_0x2000=0x2000 , ipoib, indx0 : "))
		s.True(strings.HasSuffix(line, " ; "))
	}
}

func (s *OpenSMTestSuite) TestWriteConfig() {
	dir := s.T().TempDir()
	tplPath := filepath.Join(dir, "partitions.conf.tpl")
	cfgPath := filepath.Join(dir, "partitions.conf")

	tpl := "Default=0x7fff , ipoib : ALL=full ;\n"
	s.Require().NoError(os.WriteFile(tplPath, []byte(tpl), 0644))

	sm := &pcocc.SubnetManager{
		Daemon:       "opensm",
		PartitionCfg: cfgPath,
		PartitionTpl: tplPath,
	}

	entries := map[uint16]*pcocc.PKeyEntry{
		0x2000: {VFGUIDs: []string{testGUID(0x2000, 0)}},
	}
	s.Require().NoError(sm.WriteConfig(entries))

	data, err := os.ReadFile(cfgPath)
	s.Require().NoError(err)
	s.Equal(tpl+"\n"+pcocc.RenderPartitions(entries), string(data))

	info, err := os.Stat(cfgPath)
	s.Require().NoError(err)
	s.Equal(os.FileMode(0644), info.Mode().Perm())

	// No staging files left behind
	matches, err := filepath.Glob(filepath.Join(dir, ".partitions-*"))
	s.Require().NoError(err)
	s.Empty(matches)
}

func (s *OpenSMTestSuite) TestWriteConfigMissingTemplate() {
	dir := s.T().TempDir()
	sm := &pcocc.SubnetManager{
		PartitionCfg: filepath.Join(dir, "partitions.conf"),
		PartitionTpl: filepath.Join(dir, "nosuch.tpl"),
	}
	s.Error(sm.WriteConfig(nil))
}

func (s *OpenSMTestSuite) TestFetchPKeyEntries() {
	good := &pcocc.PKeyEntry{VFGUIDs: []string{testGUID(0x2000, 0)}}
	s.Require().NoError(s.Context.CreatePKeyEntry(0x2000, good))
	s.Require().NoError(s.Context.CreatePKeyEntry(0x2001, &pcocc.PKeyEntry{
		HostGUIDs: []string{"0x0002c90300a1b2c3"},
	}))

	// Entries the daemon must skip rather than choke on
	s.Require().NoError(s.KV.Set(pcocc.OpenSMPKeyPath+"bogus", "{}"))
	s.Require().NoError(s.KV.Set(pcocc.OpenSMPKeyPath+"0x2002", "not json"))
	s.Require().NoError(s.KV.Set(pcocc.OpenSMPKeyPath+"0xzzzz", "{}"))
	s.Require().NoError(s.KV.Set(pcocc.OpenSMPKeyPath+"0x2003",
		`{"vf_guids":["short"]}`))

	entries, err := pcocc.FetchPKeyEntries(s.Context)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(good.VFGUIDs, entries[0x2000].VFGUIDs)
	s.Len(entries[0x2001].HostGUIDs, 1)
}

func (s *OpenSMTestSuite) TestFetchPKeyEntriesEmpty() {
	entries, err := pcocc.FetchPKeyEntries(s.Context)
	s.Require().NoError(err)
	s.Empty(entries)
}

func (s *OpenSMTestSuite) TestNewSubnetManager() {
	network, err := s.Store.Network("ib")
	s.Require().NoError(err)
	sm := pcocc.NewSubnetManager(network.Infiniband)
	s.Equal("opensm", sm.Daemon)
	s.Equal("/etc/opensm/partitions.conf", sm.PartitionCfg)
	s.Equal("/etc/opensm/partitions.conf.tpl", sm.PartitionTpl)
}
