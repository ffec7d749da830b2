package e2e

import (
	"regexp"
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// E2ETestSuite provides a test suite for end-to-end tests
type E2ETestSuite struct {
	suite.Suite
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	expect  playwright.PlaywrightAssertions
}

// SetupSuite runs once before all tests
func (suite *E2ETestSuite) SetupSuite() {
	pw, err := playwright.Run()
	require.NoError(suite.T(), err, "could not launch playwright")
	suite.pw = pw

	browser, err := pw.Chromium.Launch()
	require.NoError(suite.T(), err, "could not launch chromium")
	suite.browser = browser

	suite.expect = playwright.NewPlaywrightAssertions()
}

// TearDownSuite runs once after all tests
func (suite *E2ETestSuite) TearDownSuite() {
	if suite.browser != nil {
		suite.browser.Close()
	}
	if suite.pw != nil {
		suite.pw.Stop()
	}
}

// SetupTest opens a fresh page, which starts without cookies.
func (suite *E2ETestSuite) SetupTest() {
	page, err := suite.browser.NewPage()
	require.NoError(suite.T(), err, "could not create page")
	suite.page = page

	_, err = suite.page.Goto(appURL)
	require.NoError(suite.T(), err, "could not navigate to app")
}

// TearDownTest runs after each test
func (suite *E2ETestSuite) TearDownTest() {
	if suite.page != nil {
		suite.page.Close()
	}
}

func (suite *E2ETestSuite) login() {
	err := suite.expect.Locator(suite.page.Locator(".login-form")).ToBeVisible()
	require.NoError(suite.T(), err, "login form not visible")

	err = suite.page.Locator("input[name=email]").Fill(testEmail)
	require.NoError(suite.T(), err, "failed to fill email")

	err = suite.page.Locator("input[name=password]").Fill(testPassword)
	require.NoError(suite.T(), err, "failed to fill password")

	err = suite.page.Locator(".login-btn").Click()
	require.NoError(suite.T(), err, "failed to click login")

	err = suite.expect.Locator(suite.page.Locator(".dashboard")).ToBeVisible()
	require.NoError(suite.T(), err, "did not land on the dashboard after login")
}

func (suite *E2ETestSuite) TestProtectedPageRedirectsToLogin() {
	_, err := suite.page.Goto(appURL + "/budget")
	require.NoError(suite.T(), err)

	err = suite.expect.Page(suite.page).ToHaveURL(regexp.MustCompile(`/login$`))
	require.NoError(suite.T(), err, "guard did not redirect to login")
}

func (suite *E2ETestSuite) TestBadPasswordStaysOnLogin() {
	err := suite.page.Locator("input[name=email]").Fill(testEmail)
	require.NoError(suite.T(), err)
	err = suite.page.Locator("input[name=password]").Fill("wrong-password")
	require.NoError(suite.T(), err)
	err = suite.page.Locator(".login-btn").Click()
	require.NoError(suite.T(), err)

	err = suite.expect.Locator(suite.page.Locator(".error")).ToHaveText("Invalid email or password")
	require.NoError(suite.T(), err, "error message not shown")
}

func (suite *E2ETestSuite) TestCompleteUserFlow() {
	suite.login()

	_, err := suite.page.Goto(appURL + "/login")
	require.NoError(suite.T(), err)
	err = suite.expect.Page(suite.page).ToHaveURL(regexp.MustCompile(`/dashboard$`))
	require.NoError(suite.T(), err, "signed-in user was not sent away from login")

	_, err = suite.page.Goto(appURL + "/expenses")
	require.NoError(suite.T(), err)

	err = suite.page.Locator("input[name=amount]").Fill("12.50")
	require.NoError(suite.T(), err, "failed to fill amount")

	err = suite.page.Locator("input[name=description]").Fill("Lunch Test")
	require.NoError(suite.T(), err, "failed to fill description")

	_, err = suite.page.Locator("select[name=category]").SelectOption(playwright.SelectOptionValues{
		Values: &[]string{"food"},
	})
	require.NoError(suite.T(), err, "failed to select category")

	err = suite.page.Locator("button.submit").Click()
	require.NoError(suite.T(), err, "failed to submit expense")

	err = suite.expect.Locator(suite.page.Locator(".expense-item")).ToHaveCount(1)
	require.NoError(suite.T(), err, "expense item count mismatch")

	item := suite.page.Locator(".expense-item").First()
	err = suite.expect.Locator(item.Locator(".expense-details strong")).ToHaveText("Lunch Test")
	require.NoError(suite.T(), err, "description mismatch")

	err = suite.expect.Locator(item.Locator(".expense-amount")).ToContainText("12.50")
	require.NoError(suite.T(), err, "amount mismatch")

	err = suite.page.Locator("[data-testid=logout]").Click()
	require.NoError(suite.T(), err, "failed to sign out")

	err = suite.expect.Locator(suite.page.Locator(".login-form")).ToBeVisible()
	require.NoError(suite.T(), err, "sign out did not return to login")

	_, err = suite.page.Goto(appURL + "/dashboard")
	require.NoError(suite.T(), err)
	err = suite.expect.Page(suite.page).ToHaveURL(regexp.MustCompile(`/login$`))
	require.NoError(suite.T(), err, "session survived sign out")
}

// TestE2ESuite runs the e2e test suite
func TestE2ESuite(t *testing.T) {
	suite.Run(t, new(E2ETestSuite))
}
