package models

import (
	"slices"
	"strconv"
	"strings"
)

// WorkflowConfig describes one statically configured workflow and the
// storage subscription that triggers it.
type WorkflowConfig struct {
	SubscriptionID   string   `json:"subscription_id" mapstructure:"subscription_id"`
	WDLLink          string   `json:"wdl_link" mapstructure:"wdl_link"`
	AnalysisWDLs     []string `json:"analysis_wdls" mapstructure:"analysis_wdls"`
	WorkflowName     string   `json:"workflow_name" mapstructure:"workflow_name"`
	WorkflowVersion  string   `json:"workflow_version" mapstructure:"workflow_version"`
	StaticInputsLink string   `json:"wdl_static_inputs_link" mapstructure:"wdl_static_inputs_link"`
	OptionsLink      string   `json:"options_link" mapstructure:"options_link"`
}

// Equal reports whether both configs carry identical content.
func (c WorkflowConfig) Equal(other WorkflowConfig) bool {
	return c.SubscriptionID == other.SubscriptionID &&
		c.WDLLink == other.WDLLink &&
		slices.Equal(c.AnalysisWDLs, other.AnalysisWDLs) &&
		c.WorkflowName == other.WorkflowName &&
		c.WorkflowVersion == other.WorkflowVersion &&
		c.StaticInputsLink == other.StaticInputsLink &&
		c.OptionsLink == other.OptionsLink
}

// Key returns a canonical encoding of every field. Two configs have the
// same key exactly when Equal reports true.
func (c WorkflowConfig) Key() string {
	var b strings.Builder
	writeField := func(s string) {
		b.WriteString(strconv.Itoa(len(s)))
		b.WriteByte(':')
		b.WriteString(s)
	}
	writeField(c.SubscriptionID)
	writeField(c.WDLLink)
	writeField(strconv.Itoa(len(c.AnalysisWDLs)))
	for _, link := range c.AnalysisWDLs {
		writeField(link)
	}
	writeField(c.WorkflowName)
	writeField(c.WorkflowVersion)
	writeField(c.StaticInputsLink)
	writeField(c.OptionsLink)
	return b.String()
}

// Links returns the dependency URLs of the workflow: the analysis WDLs
// followed by the shared submit WDL, without duplicates.
func (c WorkflowConfig) Links(submitWDL string) []string {
	seen := make(map[string]bool, len(c.AnalysisWDLs)+1)
	links := make([]string, 0, len(c.AnalysisWDLs)+1)
	for _, link := range append(slices.Clone(c.AnalysisWDLs), submitWDL) {
		if seen[link] {
			continue
		}
		seen[link] = true
		links = append(links, link)
	}
	return links
}
