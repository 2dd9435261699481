// Package estimator computes the taxes and fees a seller pays when closing a
// property sale in Peru, and the resulting net profit.
package estimator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const Version = "1.0"

const Disclaimer = "This is an estimate only. Actual taxes and fees may vary. " +
	"Consult with a licensed tax professional or notary for accurate calculations. " +
	"Tax rates and UIT values are updated annually by SUNAT."

var (
	alcabalaRate         = decimal.RequireFromString("0.03")
	alcabalaUITThreshold = decimal.NewFromInt(10)
	capitalGainsRate     = decimal.RequireFromString("0.05")
	capitalGainsUITLimit = decimal.NewFromInt(5)
	commissionRate       = decimal.RequireFromString("0.04")
	notaryBaseFee        = decimal.NewFromInt(500)
	notaryRate           = decimal.RequireFromString("0.007")
	registryBaseFee      = decimal.NewFromInt(300)
	registryRate         = decimal.RequireFromString("0.003")
	assumedAcquisition   = decimal.RequireFromString("0.80")
	hundred              = decimal.NewFromInt(100)
)

var DefaultUIT = decimal.NewFromInt(5150)

type Date struct {
	time.Time
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(time.DateOnly) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	d.Time = t
	return nil
}

type Input struct {
	PropertyID             *string          `json:"property_id,omitempty"`
	SalePrice              decimal.Decimal  `json:"sale_price"`
	Municipality           string           `json:"municipality"`
	AcquisitionPrice       *decimal.Decimal `json:"acquisition_price,omitempty"`
	AcquisitionDate        *Date            `json:"acquisition_date,omitempty"`
	IsPrimaryResidence     bool             `json:"is_primary_residence"`
	OwnershipDurationYears *int             `json:"ownership_duration_years,omitempty"`
}

// FieldError names the input field that failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate returns every problem with the input, or nil.
func (in Input) Validate() []FieldError {
	var errs []FieldError
	if !in.SalePrice.IsPositive() {
		errs = append(errs, FieldError{Field: "sale_price", Message: "must be greater than 0"})
	}
	if strings.TrimSpace(in.Municipality) == "" {
		errs = append(errs, FieldError{Field: "municipality", Message: "is required"})
	}
	if in.AcquisitionPrice != nil && in.AcquisitionPrice.IsNegative() {
		errs = append(errs, FieldError{Field: "acquisition_price", Message: "must not be negative"})
	}
	if in.OwnershipDurationYears != nil && *in.OwnershipDurationYears < 0 {
		errs = append(errs, FieldError{Field: "ownership_duration_years", Message: "must not be negative"})
	}
	return errs
}

type BreakdownLine struct {
	Name        string           `json:"name"`
	Amount      decimal.Decimal  `json:"amount"`
	Percentage  *decimal.Decimal `json:"percentage"`
	Description string           `json:"description"`
}

type Result struct {
	Inputs          Input           `json:"inputs"`
	Alcabala        decimal.Decimal `json:"alcabala"`
	ImpuestoRenta   decimal.Decimal `json:"impuesto_renta"`
	Commission      decimal.Decimal `json:"commission"`
	NotaryFees      decimal.Decimal `json:"notary_fees"`
	RegistryFees    decimal.Decimal `json:"registry_fees"`
	OtherFees       decimal.Decimal `json:"other_fees"`
	TotalDeductions decimal.Decimal `json:"total_deductions"`
	NetProfit       decimal.Decimal `json:"net_profit"`
	Breakdown       []BreakdownLine `json:"breakdown"`
	Assumptions     []string        `json:"assumptions"`
	Disclaimer      string          `json:"disclaimer"`
	Version         string          `json:"version"`
	CalculatedAt    time.Time       `json:"calculated_at"`
}

var ErrInvalidInput = errors.New("invalid estimator input")

type Calculator struct {
	uit decimal.Decimal
	now func() time.Time
}

func NewCalculator(uit decimal.Decimal) *Calculator {
	if !uit.IsPositive() {
		uit = DefaultUIT
	}
	return &Calculator{uit: uit, now: time.Now}
}

func (c *Calculator) UIT() decimal.Decimal {
	return c.uit
}

func (c *Calculator) Calculate(in Input) (Result, error) {
	if errs := in.Validate(); len(errs) > 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrInvalidInput, &errs[0])
	}

	var assumptions []string

	alcabala, notes := c.alcabala(in.SalePrice)
	assumptions = append(assumptions, notes...)

	renta, notes := c.impuestoRenta(in.SalePrice, in.AcquisitionPrice, in.IsPrimaryResidence)
	assumptions = append(assumptions, notes...)

	commission := money(in.SalePrice.Mul(commissionRate))
	assumptions = append(assumptions, "Commission calculated as 4% of sale price (tech-enabled rate)")

	notary := money(notaryBaseFee.Add(in.SalePrice.Mul(notaryRate)))
	assumptions = append(assumptions, "Notary fees estimated at base fee + 0.7% of sale price")

	registry := money(registryBaseFee.Add(in.SalePrice.Mul(registryRate)))
	assumptions = append(assumptions, "SUNARP registry fees estimated at base fee + 0.3% of sale price")

	other := money(decimal.Zero)

	total := alcabala.Add(renta).Add(commission).Add(notary).Add(registry).Add(other)
	net := in.SalePrice.Sub(total)
	if in.AcquisitionPrice != nil {
		net = net.Sub(*in.AcquisitionPrice)
	}

	return Result{
		Inputs:          in,
		Alcabala:        alcabala,
		ImpuestoRenta:   renta,
		Commission:      commission,
		NotaryFees:      notary,
		RegistryFees:    registry,
		OtherFees:       other,
		TotalDeductions: money(total),
		NetProfit:       money(net),
		Breakdown: []BreakdownLine{
			{
				Name:        "Alcabala (Transfer Tax)",
				Amount:      alcabala,
				Percentage:  percentIfCharged(alcabalaRate, alcabala),
				Description: "Municipal transfer tax on property sales",
			},
			{
				Name:        "Impuesto a la Renta (Capital Gains)",
				Amount:      renta,
				Percentage:  percentIfCharged(capitalGainsRate, renta),
				Description: "Tax on profit from property sale",
			},
			{
				Name:        "Commission",
				Amount:      commission,
				Percentage:  percent(commissionRate),
				Description: "Real estate agent commission",
			},
			{
				Name:        "Notary Fees",
				Amount:      notary,
				Description: "Fees for escritura pública (public deed)",
			},
			{
				Name:        "Registry Fees (SUNARP)",
				Amount:      registry,
				Description: "Property registry fees",
			},
		},
		Assumptions:  assumptions,
		Disclaimer:   Disclaimer,
		Version:      Version,
		CalculatedAt: c.now().UTC(),
	}, nil
}

// alcabala is 3% of the part of the sale price above 10 UIT.
func (c *Calculator) alcabala(salePrice decimal.Decimal) (decimal.Decimal, []string) {
	threshold := c.uit.Mul(alcabalaUITThreshold)
	if salePrice.LessThanOrEqual(threshold) {
		return money(decimal.Zero), []string{fmt.Sprintf(
			"Property value (%s PEN) is below exemption threshold (%s PEN = 10 UIT). Alcabala is 0.",
			salePrice.StringFixed(2), threshold.StringFixed(2),
		)}
	}

	taxable := salePrice.Sub(threshold)
	return money(taxable.Mul(alcabalaRate)), []string{fmt.Sprintf(
		"Alcabala calculated as 3%% of taxable amount (%s PEN = sale price - exemption threshold)",
		taxable.StringFixed(2),
	)}
}

func (c *Calculator) impuestoRenta(salePrice decimal.Decimal, acquisition *decimal.Decimal, primaryResidence bool) (decimal.Decimal, []string) {
	var notes []string

	var cost decimal.Decimal
	if acquisition == nil {
		cost = salePrice.Mul(assumedAcquisition)
		notes = append(notes, fmt.Sprintf(
			"No acquisition price provided. Estimated at 80%% of sale price (%s PEN) for conservative calculation.",
			cost.StringFixed(2),
		))
	} else {
		cost = *acquisition
	}

	gain := salePrice.Sub(cost)
	if !gain.IsPositive() {
		return money(decimal.Zero), append(notes, "No capital gain. Impuesto a la Renta is 0.")
	}

	if primaryResidence {
		limit := c.uit.Mul(capitalGainsUITLimit)
		if gain.LessThanOrEqual(limit) {
			return money(decimal.Zero), append(notes, fmt.Sprintf(
				"Primary residence exemption applies. Gain (%s PEN) is below limit (%s PEN = 5 UIT).",
				gain.StringFixed(2), limit.StringFixed(2),
			))
		}
	}

	return money(gain.Mul(capitalGainsRate)), append(notes, fmt.Sprintf(
		"Capital gains tax calculated as 5%% of gain (%s PEN = sale price - acquisition price)",
		gain.StringFixed(2),
	))
}

func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func percent(rate decimal.Decimal) *decimal.Decimal {
	p := rate.Mul(hundred)
	return &p
}

func percentIfCharged(rate decimal.Decimal, amount decimal.Decimal) *decimal.Decimal {
	if !amount.IsPositive() {
		return nil
	}
	return percent(rate)
}
