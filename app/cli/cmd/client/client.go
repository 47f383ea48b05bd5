package client

import (
	"os"

	"github.com/ebetica/batch-shipyard/pkg/client"
)

const envServerURI = "SHIPYARD_SERVER"

// New returns a new shipyard client
func New() (client.Client, error) {
	uri := os.Getenv(envServerURI)
	if uri == "" {
		uri = "http://127.0.0.1:8080"
	}
	return client.NewClient(uri)
}
