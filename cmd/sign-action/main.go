// sign-action prints a signed action envelope ready to POST to
// /api/v1/actions.
//
//	sign-action -key 0x... -action makeOrder -buy-asset 0x...06e3 -buy-amount 20000000000000000000 \
//	    -sell-asset native -sell-amount 10000000000000000000 -nonce 2
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/uhyunpark/custodex/params"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/crypto"
)

func main() {
	var (
		key        = flag.String("key", "", "hex private key (generated when empty)")
		action     = flag.String("action", "", "depositNative|withdrawNative|depositToken|withdrawToken|makeOrder|cancelOrder|fillOrder")
		asset      = flag.String("asset", "", "token address for deposit/withdraw")
		amount     = flag.String("amount", "", "amount in smallest units")
		orderID    = flag.Uint64("order", 0, "order id for cancel/fill")
		buyAsset   = flag.String("buy-asset", "", "asset the maker receives")
		buyAmount  = flag.String("buy-amount", "", "")
		sellAsset  = flag.String("sell-asset", "", "asset the maker gives")
		sellAmount = flag.String("sell-amount", "", "")
		nonce      = flag.Uint64("nonce", 1, "must exceed the account's last used nonce")
		envFile    = flag.String("env", "", ".env file with the signing domain")
		showTyped  = flag.Bool("typed", false, "also print the EIP-712 typed data")
	)
	flag.Parse()

	cfg, err := params.LoadFromEnv(*envFile)
	if err != nil {
		fail("config", err)
	}

	var signer *crypto.Signer
	if *key == "" {
		signer, err = crypto.GenerateKey()
	} else {
		signer, err = crypto.FromPrivateKeyHex(*key)
	}
	if err != nil {
		fail("key", err)
	}
	if *key == "" {
		fmt.Fprintf(os.Stderr, "generated key %s for %s\n", signer.PrivateKeyHex(), signer.Address().Hex())
	}

	payload := transaction.ActionPayload{
		Action:     transaction.ActionType(*action),
		Account:    signer.Address().Hex(),
		Asset:      *asset,
		Amount:     *amount,
		OrderID:    *orderID,
		BuyAsset:   *buyAsset,
		BuyAmount:  *buyAmount,
		SellAsset:  *sellAsset,
		SellAmount: *sellAmount,
		Nonce:      *nonce,
	}
	a, err := payload.Parse()
	if err != nil {
		fail("action", err)
	}

	typed := crypto.NewEIP712Signer(cfg.Domain())
	if *showTyped {
		doc, err := typed.ActionToJSON(a.EIP712())
		if err != nil {
			fail("typed data", err)
		}
		fmt.Fprintln(os.Stderr, doc)
	}

	tx, err := transaction.Sign(typed, signer, a)
	if err != nil {
		fail("sign", err)
	}
	out, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		fail("encode", err)
	}
	fmt.Println(string(out))
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
