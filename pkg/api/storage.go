package api

import (
	"net/http"
)

// storageResponse shows the active object storage settings. Credentials are never returned.
type storageResponse struct {
	Provider     string `json:"provider"`
	Enabled      bool   `json:"enabled"`
	Bucket       string `json:"bucket,omitempty"`
	Region       string `json:"region,omitempty"`
	Endpoint     string `json:"endpoint,omitempty"`
	Prefix       string `json:"prefix,omitempty"`
	CustomDomain string `json:"customDomain,omitempty"`
	PathStyle    bool   `json:"pathStyle"`
	HasAccessKey bool   `json:"hasAccessKey"`
	PresignTTL   string `json:"presignTTL"`
}

func (s *Server) handleStorageInfo(w http.ResponseWriter, _ *http.Request) {
	cfg := s.settings()
	st := cfg.Storage

	s.writeJSON(w, http.StatusOK, storageResponse{
		Provider:     st.Provider,
		Enabled:      !st.IsLocal(),
		Bucket:       st.Bucket,
		Region:       st.Region,
		Endpoint:     st.Endpoint,
		Prefix:       st.Prefix,
		CustomDomain: st.CustomDomain,
		PathStyle:    st.PathStyle,
		HasAccessKey: st.AccessKey != "" && st.SecretKey != "",
		PresignTTL:   cfg.Admin.PresignTTL.String(),
	})
}
