package providers

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/ruralpay/tourwallet/internal/config"
	"github.com/ruralpay/tourwallet/internal/models"
)

// BankTransferAdapter submits an ISO 20022 pacs.008 credit transfer from the
// tourist's bank to the operator's collection account
type BankTransferAdapter struct {
	railClient
	creditorName string
	creditorBIC  string
	debtorBIC    string
	now          func() time.Time
}

type transferAck struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func NewBankTransferAdapter(cfg config.ProviderConfig, client *http.Client) *BankTransferAdapter {
	return &BankTransferAdapter{
		railClient:   newRailClient(BankTransfer, cfg, client),
		creditorName: cfg.CreditorName,
		creditorBIC:  cfg.CreditorBIC,
		debtorBIC:    cfg.DebtorBIC,
		now:          time.Now,
	}
}

func (a *BankTransferAdapter) InitiateTopUp(ctx context.Context, req SignedTopUp) Result {
	doc := a.CreatePacs008(req.Transaction)
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Result{Provider: a.key, Outcome: OutcomeFatal, Err: fmt.Errorf("failed to marshal XML: %w", err)}
	}

	var ack transferAck
	status, result := a.post(ctx, "/pacs008", req.IdempotencyKey(), "application/xml", []byte(xml.Header+string(body)), &ack)
	if result.Outcome != OutcomeOK {
		return result
	}

	result.ProviderRef = ack.MessageID
	if result.ProviderRef == "" {
		result.ProviderRef = string(doc.GrpHdr.MsgId)
	}
	if status == http.StatusAccepted || ack.Status == "ACSP" || ack.Status == "PDNG" {
		result.Outcome = OutcomePending
	}
	return result
}

// CreatePacs008 builds the FIToFICustomerCreditTransfer for a top-up. The
// transaction id travels as InstrId and TxId so the rail can deduplicate.
func (a *BankTransferAdapter) CreatePacs008(tx *models.Transaction) *pacs_v08.FIToFICustomerCreditTransferV08 {
	msgID := uuid.New().String()
	creDtTm := a.now()
	settlementDate := creDtTm
	amount := models.MajorUnits(tx.Amount, tx.Currency).InexactFloat64()
	txID := common.Max35Text(tx.ID)

	debtorAgent := pacs_v08.BranchAndFinancialInstitutionIdentification6{}
	if a.debtorBIC != "" {
		bic := common.BICFIDec2014Identifier(a.debtorBIC)
		debtorAgent.FinInstnId.BICFI = &bic
	}
	creditorBIC := common.BICFIDec2014Identifier(a.creditorBIC)
	debtorName := common.Max140Text(tx.AccountID)
	creditorName := common.Max140Text(a.creditorName)

	return &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(tx.Currency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &txID,
					EndToEndId: txID,
					TxId:       &txID,
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(tx.Currency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt:       debtorAgent,
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &debtorName,
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &creditorBIC,
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &creditorName,
				},
			},
		},
	}
}
