package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type campaignsFile struct {
	Campaigns []Campaign `yaml:"campaigns"`
}

// LoadCampaignsFile reads additional static campaigns from a YAML file of the form
//
//	campaigns:
//	  - name: ROTR
//	    channel_id: "1234"
//	    endpoint: http://rotr:5000/api
func LoadCampaignsFile(path string) ([]Campaign, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open campaigns file %s: %w", path, err)
	}
	defer f.Close()

	var cf campaignsFile
	if err := yaml.NewDecoder(f).Decode(&cf); err != nil {
		return nil, fmt.Errorf("failed to decode campaigns file %s: %w", path, err)
	}

	out := make([]Campaign, 0, len(cf.Campaigns))
	for i, c := range cf.Campaigns {
		c.Name = strings.TrimSpace(c.Name)
		c.ChannelID = strings.TrimSpace(c.ChannelID)
		c.Endpoint = strings.TrimSpace(c.Endpoint)
		if c.Name == "" || c.Endpoint == "" {
			return nil, fmt.Errorf("campaigns file %s: entry %d needs name and endpoint", path, i)
		}
		out = append(out, c)
	}
	return out, nil
}
