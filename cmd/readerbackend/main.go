// Command readerbackend runs the Server Reader Backend of spec.md §4.2 as a
// standalone HTTP service, grounded on the teacher's cmd/server/server.go
// mux.NewRouter() + handlers.CORS wiring.
package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/dzuluaga/MpzIdentityReader/internal/attestation"
	"github.com/dzuluaga/MpzIdentityReader/internal/readerbackend"
	"github.com/dzuluaga/MpzIdentityReader/internal/storage"
	"github.com/dzuluaga/MpzIdentityReader/internal/trustlist"
)

func main() {
	cfg := loadConfig()

	trustList, err := loadTrustList(cfg.trustedIssuersPath)
	if err != nil {
		log.Fatalf("readerbackend: load trusted issuers: %v", err)
	}

	now := time.Now
	nonces := storage.NewMemory(now)
	clients := storage.NewMemory(now)
	roots := storage.NewMemory(now)

	backend, err := readerbackend.NewBackend(nonces, clients, roots, attestation.NewCBORValidator(), cfg.backendConfig, trustList)
	if err != nil {
		log.Fatalf("readerbackend: init backend: %v", err)
	}

	r := mux.NewRouter()
	r.Use(handlers.CORS(
		handlers.AllowedMethods([]string{"POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"content-type"}),
		handlers.AllowedOrigins([]string{"*"}),
	))

	r.HandleFunc("/getNonce", backend.HandleGetNonce).Methods("POST", "OPTIONS")
	r.HandleFunc("/register", backend.HandleRegister).Methods("POST", "OPTIONS")
	r.HandleFunc("/certifyKeys", backend.HandleCertifyKeys).Methods("POST", "OPTIONS")
	r.HandleFunc("/getIssuerList", backend.HandleGetIssuerList).Methods("POST", "OPTIONS")

	addr := ":8090"
	if v := os.Getenv("READERBACKEND_ADDR"); v != "" {
		addr = v
	}
	log.Println("starting reader backend at", addr)
	log.Fatal(http.ListenAndServe(addr, r))
}

type appConfig struct {
	backendConfig      readerbackend.Config
	trustedIssuersPath string
}

// loadConfig reads the server configuration table of spec.md §6 from
// environment variables, grounded on the teacher's os.Getenv use in
// internal/server/server.go (APPLE_MERCHANT_ENCRYPTION_PRIVATE_KEY_PATH,
// SERVER_DOMAIN).
func loadConfig() appConfig {
	return appConfig{
		backendConfig: readerbackend.Config{
			ReaderCertValidityDays: envInt("READERBACKEND_CERT_VALIDITY_DAYS", 30),
			Policy: attestation.Policy{
				IOSReleaseBuild:                      envBool("READERBACKEND_IOS_RELEASE_BUILD", true),
				IOSAppIdentifier:                     os.Getenv("READERBACKEND_IOS_APP_IDENTIFIER"),
				AndroidRequireGMSAttestation:         envBool("READERBACKEND_ANDROID_REQUIRE_GMS", true),
				AndroidRequireVerifiedBootGreen:      envBool("READERBACKEND_ANDROID_REQUIRE_VERIFIED_BOOT_GREEN", true),
				AndroidAppSignatureCertificateSHA256: envList("READERBACKEND_ANDROID_SIGNATURE_DIGESTS"),
			},
			MaintainUntrustedRoot: envBool("READERBACKEND_MAINTAIN_UNTRUSTED_ROOT", true),
			Verbose:               envBool("READERBACKEND_VERBOSE", false),
		},
		trustedIssuersPath: os.Getenv("READERBACKEND_TRUSTED_ISSUERS_PATH"),
	}
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("readerbackend: %s must be an integer: %v", name, err)
	}
	return n
}

func envBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("readerbackend: %s must be a boolean: %v", name, err)
	}
	return b
}

func envList(name string) []string {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// configTrustList is the on-disk JSON shape of the `trusted_issuers` config
// option from spec.md §6: `{version, entries}`. Unlike the wire shape a
// client receives over getIssuerList (protocol.IssuerEntry, typed by
// encoding/json straight off the RPC response), an operator-authored config
// file's metadata is loosely typed here on purpose: the field set config
// authors write may already be ahead of what this build's
// trustlist.Metadata knows about, so it is decoded generically and then
// normalized with trustlist.DecodeMetadata.
type configTrustList struct {
	Version int64              `json:"version"`
	Entries []configTrustEntry `json:"entries"`
}

type configTrustEntry struct {
	Type        string                 `json:"type"`
	Cert        string                 `json:"cert,omitempty"`
	SignedVICAL string                 `json:"signedVical,omitempty"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// loadTrustList reads path (if set) as a configTrustList document; an unset
// path yields an empty version-0 list, so the backend still runs standalone
// for local development.
func loadTrustList(path string) (trustlist.Feed, error) {
	if path == "" {
		return trustlist.Feed{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return trustlist.Feed{}, err
	}
	var cfg configTrustList
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return trustlist.Feed{}, err
	}

	entries := make([]trustlist.IssuerTrustEntry, len(cfg.Entries))
	for i, ce := range cfg.Entries {
		metadata, err := trustlist.DecodeMetadata(ce.Metadata)
		if err != nil {
			return trustlist.Feed{}, fmt.Errorf("readerbackend: trusted issuer %d: %w", i, err)
		}

		e := trustlist.IssuerTrustEntry{Kind: trustlist.EntryKind(ce.Type), Metadata: metadata}
		switch e.Kind {
		case trustlist.KindIACA:
			cert, err := base64.RawURLEncoding.DecodeString(ce.Cert)
			if err != nil {
				return trustlist.Feed{}, fmt.Errorf("readerbackend: trusted issuer %d: decode cert: %w", i, err)
			}
			e.Cert = cert
		case trustlist.KindVICAL:
			signed, err := base64.RawURLEncoding.DecodeString(ce.SignedVICAL)
			if err != nil {
				return trustlist.Feed{}, fmt.Errorf("readerbackend: trusted issuer %d: decode signedVical: %w", i, err)
			}
			e.SignedVICAL = signed
		default:
			return trustlist.Feed{}, fmt.Errorf("readerbackend: trusted issuer %d: unknown type %q", i, ce.Type)
		}
		entries[i] = e
	}
	return trustlist.Feed{Version: cfg.Version, Entries: entries}, nil
}
