package lend

import (
	"context"
	"fmt"
	"math/big"
)

type amountParams struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type liquidateParams struct {
	Liquidator string `json:"liquidator"`
	Borrower   string `json:"borrower"`
	Amount     string `json:"amount"`
}

type txReceipt struct {
	TxHash string `json:"txHash"`
}

// ensurePositiveAmount validates that the amount is a strictly
// positive integer and renders it as the base-10 string the node
// expects.
func ensurePositiveAmount(label string, amount *big.Int) (string, error) {
	if amount == nil {
		return "", fmt.Errorf("%s amount required", label)
	}
	if amount.Sign() <= 0 {
		return "", fmt.Errorf("%s amount must be positive", label)
	}
	return amount.String(), nil
}

// Deposit posts collateral for the from account and returns the
// receipt hash.
func (c *Client) Deposit(ctx context.Context, from string, amount *big.Int) (string, error) {
	return c.amountOp(ctx, "lend_deposit", "deposit", from, amount)
}

// Borrow draws debt against the from account's collateral.
func (c *Client) Borrow(ctx context.Context, from string, amount *big.Int) (string, error) {
	return c.amountOp(ctx, "lend_borrow", "borrow", from, amount)
}

// Repay pays down the from account's outstanding debt.
func (c *Client) Repay(ctx context.Context, from string, amount *big.Int) (string, error) {
	return c.amountOp(ctx, "lend_repay", "repay", from, amount)
}

// Withdraw releases free collateral back to the from account.
func (c *Client) Withdraw(ctx context.Context, from string, amount *big.Int) (string, error) {
	return c.amountOp(ctx, "lend_withdraw", "withdraw", from, amount)
}

// Liquidate repays part of an undercollateralized borrower's debt and
// seizes discounted collateral for the liquidator.
func (c *Client) Liquidate(ctx context.Context, liquidator, borrower string, amount *big.Int) (string, error) {
	if err := c.privileged(); err != nil {
		return "", err
	}
	liq, err := requireAddress("liquidator", liquidator)
	if err != nil {
		return "", err
	}
	bor, err := requireAddress("borrower", borrower)
	if err != nil {
		return "", err
	}
	value, err := ensurePositiveAmount("repay", amount)
	if err != nil {
		return "", err
	}
	var receipt txReceipt
	params := liquidateParams{Liquidator: liq, Borrower: bor, Amount: value}
	if err := c.call(ctx, "lend_liquidate", []interface{}{params}, &receipt); err != nil {
		return "", err
	}
	return receipt.TxHash, nil
}

// AccrueInterest forces a protocol-wide interest accrual pass.
func (c *Client) AccrueInterest(ctx context.Context) (string, error) {
	if err := c.privileged(); err != nil {
		return "", err
	}
	var receipt txReceipt
	if err := c.call(ctx, "lend_accrueInterest", nil, &receipt); err != nil {
		return "", err
	}
	return receipt.TxHash, nil
}

func (c *Client) amountOp(ctx context.Context, method, label, from string, amount *big.Int) (string, error) {
	if err := c.privileged(); err != nil {
		return "", err
	}
	addr, err := requireAddress("from", from)
	if err != nil {
		return "", err
	}
	value, err := ensurePositiveAmount(label, amount)
	if err != nil {
		return "", err
	}
	var receipt txReceipt
	if err := c.call(ctx, method, []interface{}{amountParams{From: addr, Amount: value}}, &receipt); err != nil {
		return "", err
	}
	return receipt.TxHash, nil
}
