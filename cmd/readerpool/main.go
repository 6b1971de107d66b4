// Command readerpool is a demo CLI driving the Client Pool Manager
// (internal/readerclient) end-to-end against a running readerbackend, in
// the style of the teacher's cmd/script demo runner.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dzuluaga/MpzIdentityReader/internal/attestation"
	"github.com/dzuluaga/MpzIdentityReader/internal/readerclient"
	"github.com/dzuluaga/MpzIdentityReader/internal/securearea"
	"github.com/dzuluaga/MpzIdentityReader/internal/storage"
	"github.com/dzuluaga/MpzIdentityReader/internal/transport"
)

func main() {
	baseURL := "http://localhost:8090"
	if v := os.Getenv("READERBACKEND_URL"); v != "" {
		baseURL = v
	}

	tport := transport.NewHTTPClient(baseURL, nil)
	regStore := storage.NewMemory(nil)
	keysStore := storage.NewMemory(nil)
	trustEntries := storage.NewMemory(nil)
	trustMeta := storage.NewMemory(nil)
	secureArea := securearea.NewMemory()

	generator := attestation.CBORGenerator{
		Platform:          "ios",
		AppIdentifier:     "com.example.reader",
		ReleaseBuild:      true,
		GMSAttested:       true,
		VerifiedBootGreen: true,
		SigningCertSHA256: "demo-signing-cert",
	}

	builtIn := readerclient.NewBuiltInTrustManager(trustEntries, trustMeta)
	client := readerclient.NewReaderBackendClient(tport, regStore, keysStore, secureArea, generator, builtIn, readerclient.Config{
		TargetCount: 10,
	})

	ctx := context.Background()

	if err := client.RefreshTrustedIssuers(ctx, time.Now()); err != nil {
		log.Printf("readerpool: refresh trusted issuers: %v", err)
	} else if entries, err := builtIn.Entries(); err == nil {
		fmt.Printf("built-in trust list: %d entries\n", len(entries))
	}

	for i := 0; i < 3; i++ {
		now := time.Now()
		info, chain, err := client.GetKey(ctx, now)
		if err != nil {
			log.Fatalf("readerpool: getKey: %v", err)
		}
		fmt.Printf("[%d] alias=%s chainLen=%d leaf=%s\n", i, info.Alias, len(chain), base64.StdEncoding.EncodeToString(chain[0])[:16]+"...")

		if err := client.MarkKeyAsUsed(ctx, info, now); err != nil {
			log.Fatalf("readerpool: markKeyAsUsed: %v", err)
		}
	}
}
