package pdf

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// SlipGenerator renders a one-page registration slip. Mockable in tests.
type SlipGenerator interface {
	RegistrationSlip(data SlipData) ([]byte, error)
}

type SlipData struct {
	UserID       string
	Name         string
	Email        string
	Mobile       string
	Role         string
	Course       string
	RegisteredAt time.Time
}

// DocumentGenerator uses the built-in Helvetica unless FontPath points to a
// TTF, which is needed for non-Latin names.
type DocumentGenerator struct {
	FontPath string
	fontName string
}

func NewDocumentGenerator(fontPath string) *DocumentGenerator {
	g := &DocumentGenerator{FontPath: fontPath, fontName: "Helvetica"}
	if fontPath != "" {
		g.fontName = "DejaVu"
	}
	return g
}

func (g *DocumentGenerator) RegistrationSlip(data SlipData) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("CampusPay registration", false)
	pdf.SetAuthor("CampusPay", false)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	g.addUTF8Font(pdf)
	pdf.AddPage()

	pdf.SetFont(g.fontName, "B", 18)
	pdf.CellFormat(0, 10, "CampusPay Registration", "", 1, "C", false, 0, "")
	pdf.SetFont(g.fontName, "", 12)
	pdf.CellFormat(0, 7, data.RegisteredAt.Format("02 Jan 2006 15:04 MST"), "", 1, "C", false, 0, "")
	g.hr(pdf)
	pdf.Ln(3)

	g.sectionTitle(pdf, "Account")
	g.kvLine(pdf, "Account ID", data.UserID)
	g.kvLine(pdf, "Name", data.Name)
	g.kvLine(pdf, "Email", data.Email)
	g.kvLine(pdf, "Mobile", data.Mobile)
	g.kvLine(pdf, "Role", data.Role)
	if data.Course != "" {
		g.kvLine(pdf, "Course", data.Course)
	}
	pdf.Ln(2)
	g.hr(pdf)

	pdf.SetFont(g.fontName, "", 11)
	pdf.MultiCell(0, 6,
		"Keep this slip for your records. Sign in with the email above to view fees and payment history.",
		"", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render slip: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *DocumentGenerator) sectionTitle(pdf *gofpdf.Fpdf, s string) {
	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 7, s, "", 1, "L", false, 0, "")
	pdf.SetFont(g.fontName, "", 11)
}

func (g *DocumentGenerator) kvLine(pdf *gofpdf.Fpdf, key, val string) {
	pdf.SetFont(g.fontName, "B", 11)
	pdf.CellFormat(45, 6, key+":", "", 0, "L", false, 0, "")
	pdf.SetFont(g.fontName, "", 11)
	pdf.CellFormat(0, 6, val, "", 1, "L", false, 0, "")
}

func (g *DocumentGenerator) hr(pdf *gofpdf.Fpdf) {
	y := pdf.GetY() + 1.5
	pdf.SetLineWidth(0.2)
	pdf.Line(20, y, 190, y)
	pdf.SetY(y + 2)
}

func (g *DocumentGenerator) addUTF8Font(pdf *gofpdf.Fpdf) {
	if g.FontPath == "" {
		return
	}
	pdf.AddUTF8Font(g.fontName, "", g.FontPath)
	pdf.AddUTF8Font(g.fontName, "B", g.FontPath)
}
