// Package mint talks to Cashu mints over their REST API.
package mint

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/pkg/errors"

	"github.com/milkmarket/milkd"
	"github.com/milkmarket/milkd/internal/domain"
)

const (
	stateSpent = "SPENT"

	requestTimeout = 15 * time.Second
)

type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type checkStateRequest struct {
	Ys []string `json:"Ys"`
}

type checkStateResponse struct {
	States []proofState `json:"states"`
}

type proofState struct {
	Y     string `json:"Y"`
	State string `json:"state"`
}

// CheckSpent asks the mint for the state of each proof. The result is
// aligned with the input: spent[i] reports proofs[i]. A response that
// cannot be matched back to every input proof is an error, the caller
// must then keep the proofs.
func (c *Client) CheckSpent(ctx context.Context, mintURL string, proofs []milkmarket.Proof) ([]bool, error) {
	if len(proofs) == 0 {
		return nil, nil
	}

	ys := make([]string, len(proofs))
	for i, proof := range proofs {
		y, err := HashToCurve([]byte(proof.Secret))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive Y for proof %s", proof.ID)
		}
		ys[i] = y
	}

	body, err := json.Marshal(checkStateRequest{Ys: ys})
	if err != nil {
		return nil, err
	}

	url := strings.TrimSuffix(mintURL, "/") + "/v1/checkstate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reach mint")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("mint returned status %d", resp.StatusCode)
	}

	var parsed checkStateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "failed to decode checkstate response")
	}

	states := make(map[string]string, len(parsed.States))
	for _, s := range parsed.States {
		states[strings.ToLower(s.Y)] = s.State
	}

	spent := make([]bool, len(proofs))
	for i, y := range ys {
		state, ok := states[y]
		if !ok {
			return nil, errors.Errorf("mint response missing state for proof %s", proofs[i].ID)
		}
		spent[i] = state == stateSpent
	}
	return spent, nil
}

// Info fetches the mint's self-description for display next to its
// balance.
func (c *Client) Info(ctx context.Context, mintURL string) (domain.MintInfo, error) {
	url := strings.TrimSuffix(mintURL, "/") + "/v1/info"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.MintInfo{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.MintInfo{}, errors.Wrap(err, "failed to reach mint")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return domain.MintInfo{}, errors.Errorf("mint returned status %d", resp.StatusCode)
	}

	var info domain.MintInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return domain.MintInfo{}, err
	}
	return info, nil
}

type meltQuoteRequest struct {
	Request string `json:"request"`
	Unit    string `json:"unit"`
}

type meltQuoteResponse struct {
	Quote      string `json:"quote"`
	Amount     uint64 `json:"amount"`
	FeeReserve uint64 `json:"fee_reserve"`
	State      string `json:"state"`
	Expiry     int64  `json:"expiry"`
}

// MeltQuote asks the mint what paying a bolt11 invoice would cost.
func (c *Client) MeltQuote(ctx context.Context, mintURL, invoice string) (domain.MeltQuote, error) {
	body, err := json.Marshal(meltQuoteRequest{Request: invoice, Unit: "sat"})
	if err != nil {
		return domain.MeltQuote{}, err
	}

	url := strings.TrimSuffix(mintURL, "/") + "/v1/melt/quote/bolt11"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.MeltQuote{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.MeltQuote{}, errors.Wrap(err, "failed to reach mint")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.MeltQuote{}, errors.Errorf("mint returned status %d", resp.StatusCode)
	}

	var parsed meltQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.MeltQuote{}, errors.Wrap(err, "failed to decode melt quote")
	}
	return domain.MeltQuote{
		Quote:      parsed.Quote,
		Amount:     parsed.Amount,
		FeeReserve: parsed.FeeReserve,
		State:      parsed.State,
		Expiry:     parsed.Expiry,
	}, nil
}

var hashToCurveDomain = []byte("Secp256k1_HashToCurve_Cashu_")

// HashToCurve maps a proof secret to its Y point on secp256k1, hex encoded
// in compressed form. Candidates are generated by hashing the message with
// an incrementing counter until one lands on the curve.
func HashToCurve(message []byte) (string, error) {
	msgHash := sha256.Sum256(append(hashToCurveDomain, message...))
	counterBytes := make([]byte, 4)
	for counter := uint32(0); counter < 1<<16; counter++ {
		binary.LittleEndian.PutUint32(counterBytes, counter)
		h := sha256.Sum256(append(msgHash[:], counterBytes...))
		candidate := append([]byte{0x02}, h[:]...)
		if pk, err := btcec.ParsePubKey(candidate); err == nil {
			return hex.EncodeToString(pk.SerializeCompressed()), nil
		}
	}
	return "", errors.New("no curve point found for message")
}
