package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/aulaflow/internal/security/apikey"
	"github.com/dropDatabas3/aulaflow/internal/security/secretbox"
)

type client struct {
	BaseURL   string
	APIKey    string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, body []byte) (int, []byte, error) {
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("X-Admin-API-Key", c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func main() {
	var (
		baseURL = envOr("AULAFLOW_ADMIN_URL", "http://localhost:8080")
		apiKey  = envOr("AULAFLOW_ADMIN_KEY", "")
		out     = envOr("AULAFLOW_OUT", "text")
	)

	root := &cobra.Command{
		Use:   "aulaflow",
		Short: "CLI admin para AulaFlow (tenants vía /v1/admin)",
	}

	root.PersistentFlags().StringVar(&baseURL, "admin-api-url", baseURL, "URL base del Admin API (env AULAFLOW_ADMIN_URL)")
	root.PersistentFlags().StringVar(&apiKey, "admin-api-key", apiKey, "API key del Admin API (env AULAFLOW_ADMIN_KEY)")
	root.PersistentFlags().StringVar(&out, "out", out, "Formato de salida: json|text")

	cl := &client{HTTP: &http.Client{Timeout: 30 * time.Second}}
	requireKey := func(cmd *cobra.Command, args []string) error {
		cl.BaseURL, cl.APIKey, cl.OutFormat = baseURL, apiKey, out
		if cl.APIKey == "" {
			return fmt.Errorf("falta API key (flag --admin-api-key o env AULAFLOW_ADMIN_KEY)")
		}
		return nil
	}

	// ===== tenant =====
	tenantCmd := &cobra.Command{
		Use:   "tenant",
		Short: "Gestión de tenants",
	}

	listCmd := &cobra.Command{
		Use:               "list",
		Short:             "Lista todos los tenants",
		PersistentPreRunE: requireKey,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("GET", "/v1/admin/tenants", nil)
			if err != nil {
				return err
			}
			cl.print(status, body)
			return nil
		},
	}

	getCmd := &cobra.Command{
		Use:               "get <slug|id>",
		Short:             "Muestra un tenant",
		Args:              cobra.ExactArgs(1),
		PersistentPreRunE: requireKey,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("GET", "/v1/admin/tenants/"+args[0], nil)
			if err != nil {
				return err
			}
			cl.print(status, body)
			return nil
		},
	}

	var (
		createName   string
		createDBName string
		createNode   int
		createDSN    string
	)
	createCmd := &cobra.Command{
		Use:               "create <slug>",
		Short:             "Crea un tenant nuevo",
		Args:              cobra.ExactArgs(1),
		PersistentPreRunE: requireKey,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{
				"slug": args[0],
				"name": createName,
			}
			if createName == "" {
				payload["name"] = args[0]
			}
			if createDBName != "" {
				payload["databaseName"] = createDBName
			}
			if createNode != 0 {
				payload["nodeNumber"] = createNode
			}
			if createDSN != "" {
				payload["dsn"] = createDSN
			}
			b, _ := json.Marshal(payload)
			status, body, err := cl.do("POST", "/v1/admin/tenants", b)
			if err != nil {
				return err
			}
			cl.print(status, body)
			return nil
		},
	}
	createCmd.Flags().StringVar(&createName, "name", "", "Nombre visible del tenant")
	createCmd.Flags().StringVar(&createDBName, "database", "", "Nombre de base (default: derivado del slug)")
	createCmd.Flags().IntVar(&createNode, "node", 0, "Nodo/shard donde vive la base")
	createCmd.Flags().StringVar(&createDSN, "dsn", "", "DSN custom (se cifra en el registro)")

	statusCmd := func(use, short, action string) *cobra.Command {
		return &cobra.Command{
			Use:               use + " <slug|id>",
			Short:             short,
			Args:              cobra.ExactArgs(1),
			PersistentPreRunE: requireKey,
			RunE: func(cmd *cobra.Command, args []string) error {
				status, body, err := cl.do("POST", "/v1/admin/tenants/"+args[0]+"/"+action, nil)
				if err != nil {
					return err
				}
				cl.print(status, body)
				return nil
			},
		}
	}

	deleteCmd := &cobra.Command{
		Use:               "delete <slug|id>",
		Short:             "Baja lógica del tenant (el slug queda reservado)",
		Args:              cobra.ExactArgs(1),
		PersistentPreRunE: requireKey,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("DELETE", "/v1/admin/tenants/"+args[0], nil)
			if err != nil {
				return err
			}
			cl.print(status, body)
			return nil
		},
	}

	tenantCmd.AddCommand(listCmd, getCmd, createCmd,
		statusCmd("suspend", "Suspende un tenant (corta tráfico nuevo)", "suspend"),
		statusCmd("activate", "Reactiva un tenant suspendido", "activate"),
		deleteCmd,
	)

	// ===== utilidades locales (no llaman al API) =====

	hashKeyCmd := &cobra.Command{
		Use:   "hash-key <api-key>",
		Short: "Genera el hash argon2id para ADMIN_API_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phc, err := apikey.Hash(apikey.Default, args[0])
			if err != nil {
				return err
			}
			fmt.Println(phc)
			return nil
		},
	}

	encryptDSNCmd := &cobra.Command{
		Use:   "encrypt-dsn <dsn>",
		Short: "Cifra una DSN con la master key (env AULAFLOW_MASTER_KEY)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc, err := secretbox.Encrypt(args[0])
			if err != nil {
				return err
			}
			fmt.Println(enc)
			return nil
		},
	}

	root.AddCommand(tenantCmd, hashKeyCmd, encryptDSNCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
