package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	printqtls "github.com/printq/printq/pkg/tls"
)

var (
	serverURL    string
	outputFormat string
	cfgFile      string
	apiToken     string
	caFile       string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "printq",
	Short: "CLI for the PrintQ 3D print queue manager",
	Long:  `printq is a command line interface for managing projects, plates, jobs and printer downtime in the PrintQ queue manager.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.printq/config)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "daemon API URL (default from config or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table, json or yaml")
	rootCmd.PersistentFlags().StringVar(&caFile, "ca-cert", "", "CA certificate for verifying the daemon's TLS certificate")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(filepath.Join(home, ".printq"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()
	viper.BindEnv("api_token", "PRINTQ_API_TOKEN")
	viper.BindEnv("server_url", "PRINTQ_SERVER")

	if err := viper.ReadInConfig(); err == nil {
		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if caFile == "" {
			caFile = viper.GetString("ca_cert")
		}
	}

	if apiToken == "" {
		apiToken = viper.GetString("api_token")
	}
	if serverURL == "" {
		serverURL = viper.GetString("server_url")
	}
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
}

// GetServerURL returns the configured daemon URL without trailing slashes
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// GetHTTPClient returns a client configured for the daemon, including
// the CA certificate when one is set.
func GetHTTPClient() *http.Client {
	client := &http.Client{}
	if caFile != "" {
		tlsConfig, err := printqtls.LoadClientTLSConfig("", "", caFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading CA certificate: %v\n", err)
			os.Exit(1)
		}
		client.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}
	return client
}

// CreateAuthenticatedRequest creates an HTTP request with the bearer
// token header when a token is configured
func CreateAuthenticatedRequest(method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}

	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}

	return req, nil
}

// IsTableOutput returns true unless a structured format is requested
func IsTableOutput() bool {
	return outputFormat != "json" && outputFormat != "yaml"
}

// PrintStructured renders v in the requested structured format
func PrintStructured(v interface{}) error {
	switch outputFormat {
	case "yaml":
		output, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Print(string(output))
	default:
		output, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
	}
	return nil
}

func unmarshalInto(body []byte, out interface{}) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// apiGet fetches a URL and decodes the JSON response into out
func apiGet(url string, out interface{}) error {
	req, err := CreateAuthenticatedRequest("GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := GetHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// apiSend performs a mutating request and optionally decodes the response
func apiSend(method, url string, payload, out interface{}, wantStatus int) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = strings.NewReader(string(data))
	}

	req, err := CreateAuthenticatedRequest(method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := GetHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != wantStatus {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
