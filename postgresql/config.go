package postgresql

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"path"
)

type Config struct {
	DataDir             string
	ExtraDir            string
	Port                int
	ReplicationUsername string
	ReplicationPassword string
	AdminUsername       string
	AdminPassword       string
}

// SetUpstream rewrites the local replica's configuration so that it streams
// from upstreamHost. The base configuration comes from a template in
// ExtraDir; replication settings are appended when an upstream is given.
func (c *Config) SetUpstream(upstreamHost string) error {
	file, err := ioutil.ReadFile(path.Join(c.ExtraDir, "postgresql.template.conf"))
	if err != nil {
		return err
	}

	pgConf := bytes.NewBuffer(file)
	if upstreamHost != "" {
		pgConf.WriteString("\n")
		pgConf.WriteString(fmt.Sprintf(
			"primary_conninfo = 'user=%v password=%v host=%v port=%v sslmode=prefer sslcompression=0'",
			c.ReplicationUsername,
			c.ReplicationPassword,
			upstreamHost,
			c.Port,
		))
		pgConf.WriteString("\n")
		pgConf.WriteString(fmt.Sprintf("primary_slot_name = '%v'", upstreamHost))
	}

	if err := ioutil.WriteFile(path.Join(c.DataDir, "postgresql.conf"), pgConf.Bytes(), 0700); err != nil {
		return err
	}

	return nil
}
