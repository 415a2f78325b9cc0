package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/procurement-engine/internal/model"
	"github.com/atmx/procurement-engine/internal/policy"
)

const buyerSystem = "You are a procurement agent for a manufacturing company. " +
	"Evaluate suppliers objectively and answer in the requested format only."

func pricingPrompt(rfq model.RFQ, prices map[policy.Tier]decimal.Decimal, minPrice decimal.Decimal, strategy string) string {
	tiers := make([]string, 0, len(prices))
	for t, p := range prices {
		tiers = append(tiers, fmt.Sprintf("%s=$%s", t, p.StringFixed(2)))
	}
	sort.Strings(tiers)
	return fmt.Sprintf(`A buyer requests %d units of %s.
Price tiers: %s. Minimum acceptable price: $%s. Strategy: %s.
Choose a tier and a unit price. Reply with JSON only:
{"chosen_tier": "retail|wholesale|bulk", "quoted_price": 0.00, "reasoning": "..."}`,
		rfq.Quantity, rfq.ProductID, strings.Join(tiers, ", "), minPrice.StringFixed(2), strategy)
}

func quoteTextPrompt(rfq model.RFQ, dec policy.PricingDecision, days, warranty int) string {
	return fmt.Sprintf(`Write a short professional quote (2-3 sentences) for %d units of %s
at $%s/unit (%s tier), delivery in %d days, %d-month warranty. State the price exactly.`,
		rfq.Quantity, rfq.ProductID, dec.QuotedPrice.StringFixed(2), dec.ChosenTier, days, warranty)
}

func quoteTemplate(rfq model.RFQ, dec policy.PricingDecision, days, warranty int) string {
	return fmt.Sprintf("We can supply %d units of %s at $%s/unit (%s pricing), delivered in %d days with a %d-month warranty.",
		rfq.Quantity, rfq.ProductID, dec.QuotedPrice.StringFixed(2), dec.ChosenTier, days, warranty)
}

func decisionPrompt(productID string, t policy.SellerTerms, strategy string) string {
	return fmt.Sprintf(`Negotiation round %d of %d for %s.
Buyer proposes $%s/unit. Our last price was $%s/unit. Our minimum is $%s/unit. Strategy: %s.
Decide whether to accept, counter or walk away. Reply with JSON only:
{"decision": "accept|counter|walk_away", "counter_price": 0.00, "reasoning": "message to the buyer"}`,
		t.Round, t.MaxRounds, productID, t.Proposed.StringFixed(2), t.LastPrice.StringFixed(2),
		t.MinPrice.StringFixed(2), strategy)
}

func evaluationPrompt(seller string, q model.Quote, rfq model.RFQ) string {
	certs := q.Compliance.CertificationList()
	sort.Strings(certs)
	return fmt.Sprintf(`Evaluate this supplier quote for %d units of %s.
Supplier: %s. Price: $%s/unit. Delivery: %d days. Warranty: %d months. Certifications: %s.
Supplier message: %q
Warranty guide: 12 months is standard (quality 6), 18 months good (7.5), 24 months excellent (9).
Delivery guide: 3-5 days excellent value (9), 6-8 days good (7), 9+ days average (5).
Reply with JSON only:
{"quality_score": 0-10, "trust_score": 0-10, "value_score": 0-10, "reasoning": "...", "red_flags": [], "strengths": []}`,
		rfq.Quantity, rfq.ProductID, seller, q.PricePerUnit.StringFixed(2), q.DeliveryDays,
		q.Compliance.WarrantyMonths, strings.Join(certs, ", "), q.GeneratedText)
}

func counterPrompt(productID string, proposed, current decimal.Decimal, round int) string {
	return fmt.Sprintf(`Write one or two sentences proposing $%s/unit for %s (supplier asked $%s/unit, round %d).
Be polite and firm. State the price exactly.`,
		proposed.StringFixed(2), productID, current.StringFixed(2), round)
}

func purchaseOrderPrompt(dealID, seller string, rfq model.RFQ, price decimal.Decimal) string {
	return fmt.Sprintf(`Write a brief purchase order confirmation. Reference %s. Supplier %s.
%d units of %s at $%s/unit, total $%s.`,
		dealID, seller, rfq.Quantity, rfq.ProductID, price.StringFixed(2),
		price.Mul(decimal.NewFromInt(int64(rfq.Quantity))).StringFixed(2))
}

func purchaseOrderTemplate(dealID, seller string, rfq model.RFQ, price decimal.Decimal) string {
	return fmt.Sprintf("PURCHASE ORDER %s\nSupplier: %s\nItem: %s\nQuantity: %d\nUnit price: $%s\nTotal: $%s",
		dealID, seller, rfq.ProductID, rfq.Quantity, price.StringFixed(2),
		price.Mul(decimal.NewFromInt(int64(rfq.Quantity))).StringFixed(2))
}
