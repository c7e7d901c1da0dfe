package userconfig

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
)

// siteFile is the layout of Hadoop's hbase-site.xml and core-site.xml.
type siteFile struct {
	XMLName    xml.Name `xml:"configuration"`
	Properties []struct {
		Name  string `xml:"name"`
		Value string `xml:"value"`
	} `xml:"property"`
}

// ReadSiteFile returns the properties of a Hadoop XML configuration file.
// Properties without a name are skipped.
func ReadSiteFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("can't open the site file: %w", err)
	}
	defer f.Close()

	var s siteFile
	if err := xml.NewDecoder(f).Decode(&s); err != nil {
		return nil, fmt.Errorf("can't parse %v as a Hadoop site file: %w", path, err)
	}

	props := make(map[string]string, len(s.Properties))
	for _, p := range s.Properties {
		n := strings.TrimSpace(p.Name)
		if n == "" {
			continue
		}
		props[n] = strings.TrimSpace(p.Value)
	}
	return props, nil
}
